// Package config loads the host configuration for the orchestrator.
//
// Configuration is optional: with no config file every setting falls back
// to a host default. A file supplied by the operator overrides individual
// settings.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/internal/identity"
)

// DefaultPath is where the host configuration file lives unless the
// operator points elsewhere.
const DefaultPath = "/etc/crucible/config.yaml"

// Config is the host configuration.
type Config struct {
	// TemplatesDir is the template catalog directory.
	TemplatesDir string `yaml:"templates_dir"`

	// VMsDir holds per-instance disk images and rendered definitions.
	VMsDir string `yaml:"vms_dir"`

	// NVRAMDir holds per-instance firmware variable stores.
	NVRAMDir string `yaml:"nvram_dir"`

	// ProfilesDir holds per-instance introspection profile links.
	ProfilesDir string `yaml:"profiles_dir"`

	// FirmwareSearchPaths are candidate base variable-store images,
	// searched in order. Secure-Boot-signed variants should come first.
	FirmwareSearchPaths []string `yaml:"firmware_search_paths"`

	// MACVendorOUI is the vendor prefix for generated MAC addresses.
	MACVendorOUI string `yaml:"mac_vendor_oui"`

	// DiskSizeGB is the capacity of newly allocated disk images.
	DiskSizeGB int `yaml:"disk_size_gb"`

	// ScratchName is the reserved disposable sandbox name. It is the
	// teardown default and the only name the purge policy applies to.
	ScratchName string `yaml:"scratch_name"`

	// PurgeScratchDisk recreates a stale scratch disk instead of reusing
	// it. Pointer to distinguish unset vs false; defaults to true.
	PurgeScratchDisk *bool `yaml:"purge_scratch_disk,omitempty"`

	// DisableSecurityDriver turns off the engine's security isolation in
	// qemu.conf before provisioning. Required when running a custom-built
	// engine binary that the host's isolation policy does not know.
	DisableSecurityDriver bool `yaml:"disable_security_driver,omitempty"`

	// QEMUConfPath is the engine configuration file the security-driver
	// precondition inspects.
	QEMUConfPath string `yaml:"qemu_conf_path,omitempty"`
}

// ouiPattern matches three colon-separated hex octets.
var ouiPattern = regexp.MustCompile(`^[0-9a-fA-F]{2}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}$`)

// Load reads the configuration from path. An empty path means DefaultPath;
// a missing file at DefaultPath yields pure defaults, while a missing file
// at an explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	return cfg, nil
}

// applyDefaults fills in host defaults for unset fields.
func (c *Config) applyDefaults() {
	if c.TemplatesDir == "" {
		c.TemplatesDir = "/etc/crucible/templates"
	}
	if c.VMsDir == "" {
		c.VMsDir = "/var/lib/crucible/vms"
	}
	if c.NVRAMDir == "" {
		c.NVRAMDir = "/var/lib/libvirt/qemu/nvram"
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = "/var/lib/crucible/profiles"
	}
	if len(c.FirmwareSearchPaths) == 0 {
		c.FirmwareSearchPaths = []string{
			"/usr/share/OVMF/OVMF_VARS.secboot.fd",
			"/usr/share/edk2/ovmf/OVMF_VARS.secboot.fd",
			"/usr/share/OVMF/OVMF_VARS.fd",
			"/usr/share/edk2/ovmf/OVMF_VARS.fd",
		}
	}
	if c.MACVendorOUI == "" {
		c.MACVendorOUI = identity.DefaultOUI
	}
	if c.DiskSizeGB == 0 {
		c.DiskSizeGB = 64
	}
	if c.ScratchName == "" {
		c.ScratchName = "win11-sandbox"
	}
	if c.PurgeScratchDisk == nil {
		purge := true
		c.PurgeScratchDisk = &purge
	}
	if c.QEMUConfPath == "" {
		c.QEMUConfPath = "/etc/libvirt/qemu.conf"
	}
}

// Validate checks the configuration for operator mistakes.
func (c *Config) Validate() error {
	if !ouiPattern.MatchString(c.MACVendorOUI) {
		return fmt.Errorf("mac_vendor_oui %q is not three colon-separated hex octets", c.MACVendorOUI)
	}
	if strings.EqualFold(c.MACVendorOUI, identity.EngineOUI) {
		return fmt.Errorf("mac_vendor_oui must not be the engine's reserved prefix %s", identity.EngineOUI)
	}
	if c.DiskSizeGB < 1 {
		return fmt.Errorf("disk_size_gb must be at least 1, got %d", c.DiskSizeGB)
	}
	if c.ScratchName == "" {
		return fmt.Errorf("scratch_name must not be empty")
	}
	return nil
}
