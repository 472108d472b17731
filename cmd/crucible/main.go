package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/controlplane"
	"github.com/jbweber/crucible/internal/host"
	"github.com/jbweber/crucible/internal/output"
	"github.com/jbweber/crucible/internal/template"
	"github.com/jbweber/crucible/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - single-tenant VM sandbox provisioning",
	Long: `Crucible provisions, starts, and tears down single-tenant VM sandboxes
with randomized hardware identities, driven by reusable OS templates.

Every instance gets a fresh UUID, MAC address, and hardware serials so the
guest cannot trivially fingerprint itself as a virtual machine.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "host configuration file (default "+config.DefaultPath+")")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(testConnCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

var provisionList bool

var provisionCmd = &cobra.Command{
	Use:   "provision [template] [name] [isoPath]",
	Short: "Provision a new sandbox from a template",
	Long: `Provision a new sandbox VM from a catalog template.

The instance name defaults to <template>-sandbox. An install media path may
be given as the third argument; a missing ISO is a warning, not an error.

With no arguments or with --list, prints the template catalog and usage.`,
	Args: cobra.MaximumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if provisionList || len(args) == 0 {
			entries, err := template.NewCatalog(cfg.TemplatesDir).Entries()
			if err != nil {
				return err
			}
			fmt.Print(output.FormatTemplateList(entries))
			fmt.Println()
			return cmd.Usage()
		}

		opts := vm.ProvisionOptions{TemplateKey: args[0]}
		if len(args) > 1 {
			opts.Name = args[1]
		}
		if len(args) > 2 {
			opts.ISOPath = args[2]
		}

		if cfg.DisableSecurityDriver {
			changed, err := host.EnsureSecurityDriver(cfg.QEMUConfPath)
			if err != nil {
				return fmt.Errorf("security driver precondition failed: %w", err)
			}
			if changed {
				fmt.Println("Note: qemu.conf changed; restart the libvirt daemon for it to take effect")
			}
		}

		inst, err := vm.Provision(context.Background(), cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to provision sandbox: %w", err)
		}

		fmt.Println("✓ Sandbox provisioned successfully!")
		fmt.Print(output.FormatInstance(inst))
		return nil
	},
}

var startGUI bool

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a provisioned sandbox",
	Long: `Start a provisioned sandbox by name.

With --gui, attaches an external viewer to the running guest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if err := vm.Start(context.Background(), name, startGUI); err != nil {
			return fmt.Errorf("failed to start sandbox: %w", err)
		}

		fmt.Printf("✓ Sandbox '%s' started\n", name)
		return nil
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown [name]",
	Short: "Destroy a sandbox and reclaim its artifacts",
	Long: `Destroy a sandbox by name, defaulting to the configured scratch sandbox.

This will:
- Stop the VM if running
- Unregister it from the control plane (including its firmware vars)
- Delete the disk image and rendered definition
- Remove the introspection profile link

Teardown is best-effort: every step tolerates its target being absent, and
a failing step does not stop the rest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := cfg.ScratchName
		if len(args) > 0 {
			name = args[0]
		}
		fmt.Printf("Tearing down sandbox: %s\n", name)

		report, err := vm.Teardown(context.Background(), cfg, name)
		if report != nil {
			fmt.Print(output.FormatTeardownReport(report))
		}
		if err != nil {
			return err
		}

		fmt.Printf("✓ Sandbox '%s' torn down\n", name)
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test control-plane connectivity",
	Long:  `Test connectivity to the virtualization engine and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing control-plane connection...")

		client, err := controlplane.Connect("", 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to engine daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		engineVersion, err := client.Libvirt().ConnectGetLibVersion()
		if err != nil {
			return fmt.Errorf("failed to get engine version: %w", err)
		}

		// Version is encoded as an integer like 8006000 for 8.6.0
		major := engineVersion / 1000000
		minor := (engineVersion % 1000000) / 1000
		patch := engineVersion % 1000
		fmt.Printf("✓ Engine version: %d.%d.%d\n", major, minor, patch)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionList, "list", false, "list available templates and exit")
	startCmd.Flags().BoolVar(&startGUI, "gui", false, "attach an external viewer after start")
}
