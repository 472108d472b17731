package vm

import (
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/jbweber/crucible/internal/controlplane"
)

// Start boots a defined instance. With gui, an external viewer is attached
// to the running guest; the viewer itself is not managed beyond launch.
func Start(ctx context.Context, name string, gui bool) error {
	log.Printf("Connecting to control plane...")
	client, err := controlplane.ConnectWithContext(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("failed to connect to control plane: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Warning: failed to close control plane connection: %v", err)
		}
	}()

	return startWithDeps(name, gui, controlplane.NewLibvirtAdapter(client.Libvirt()), launchViewer)
}

// startWithDeps starts an instance with injected dependencies.
func startWithDeps(name string, gui bool, cp controlPlane, viewer func(name string) error) error {
	state, err := currentState(cp, name)
	if err != nil {
		return err
	}

	switch state {
	case StateAbsent:
		return fmt.Errorf("instance %q is not defined (provision it first)", name)
	case StateRunning:
		log.Printf("Instance '%s' is already running", name)
	default:
		log.Printf("Starting instance '%s'...", name)
		if err := cp.Start(name); err != nil {
			return err
		}
	}

	if gui {
		log.Printf("Launching viewer for '%s'...", name)
		if err := viewer(name); err != nil {
			return err
		}
	}

	return nil
}

// launchViewer spawns virt-viewer attached to the named guest and leaves it
// running; the pipeline does not wait for it.
func launchViewer(name string) error {
	cmd := exec.Command("virt-viewer", "--attach", name)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch virt-viewer for %q: %w", name, err)
	}

	// Reap the child when it eventually exits.
	go func() { _ = cmd.Wait() }()

	return nil
}
