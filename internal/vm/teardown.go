package vm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/controlplane"
	"github.com/jbweber/crucible/internal/metadata"
)

// Teardown step names, in execution order.
const (
	StepRegistration = "registration"
	StepStop         = "stop"
	StepUndefine     = "undefine"
	StepDisk         = "disk image"
	StepDefinition   = "definition"
	StepFirmware     = "firmware vars"
	StepProfileLink  = "profile link"
)

// StepResult records the outcome of one teardown step.
type StepResult struct {
	Step  string
	Found bool
	Err   error
}

// Report is the complete account of one teardown run. Teardown never fails
// on absence; the report says what was found and what was done.
type Report struct {
	InstanceName string

	// Record is the provisioning record recovered from the registration
	// before it was removed, when the instance still carried one.
	Record *metadata.Record

	Steps []StepResult
}

func (r *Report) record(step string, found bool, err error) {
	r.Steps = append(r.Steps, StepResult{Step: step, Found: found, Err: err})

	switch {
	case err != nil:
		log.Printf("Teardown %s: %s failed: %v", r.InstanceName, step, err)
	case found:
		log.Printf("Teardown %s: %s removed", r.InstanceName, step)
	default:
		log.Printf("Teardown %s: %s not found", r.InstanceName, step)
	}
}

// failed returns the steps that hit an unexpected error.
func (r *Report) failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Teardown destroys the named instance and reclaims its artifacts.
//
// Every step tolerates its target being absent, and a failing step does not
// stop the remaining steps. The returned Report is always complete; the
// error is non-nil only when at least one step hit an unexpected failure.
func Teardown(ctx context.Context, cfg *config.Config, name string) (*Report, error) {
	log.Printf("Connecting to control plane...")
	client, err := controlplane.ConnectWithContext(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Warning: failed to close control plane connection: %v", err)
		}
	}()

	return teardownWithDeps(name,
		controlplane.NewLibvirtAdapter(client.Libvirt()),
		storeFromConfig(cfg),
	)
}

// teardownWithDeps tears down an instance with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func teardownWithDeps(name string, cp controlPlane, store artifactStore) (*Report, error) {
	report := &Report{InstanceName: name}

	// Step 1: Registration. Stop if running, then unregister with
	// firmware purge.
	exists, err := cp.Exists(name)
	switch {
	case err != nil:
		report.record(StepRegistration, false, err)
	case !exists:
		report.record(StepRegistration, false, nil)
	default:
		// Recover the provisioning record before the registration (and
		// the record with it) is removed. Best-effort: instances defined
		// outside the orchestrator carry none.
		if doc, err := cp.InstanceMetadata(name); err == nil {
			if rec, err := metadata.Unmarshal(doc); err == nil {
				report.Record = rec
				log.Printf("Teardown %s: provisioned from template '%s' at %s",
					name, rec.TemplateKey, rec.ProvisionedAt.Format(time.RFC3339))
			}
		}

		running, err := cp.IsRunning(name)
		if err != nil {
			report.record(StepStop, true, err)
		} else if running {
			report.record(StepStop, true, cp.Stop(name))
		}

		report.record(StepUndefine, true, cp.Undefine(name, true))
	}

	// Step 2: Disk image
	found, err := store.RemoveDisk(name)
	report.record(StepDisk, found, err)

	// Step 3: Rendered definition
	found, err = store.RemoveDefinition(name)
	report.record(StepDefinition, found, err)

	// Step 4: Firmware vars left behind when registration never happened
	// (the engine purges them during undefine otherwise).
	found, err = store.RemoveNVRAM(name)
	report.record(StepFirmware, found, err)

	// Step 5: Introspection profile link
	found, err = store.RemoveProfileLink(name)
	report.record(StepProfileLink, found, err)

	if failed := report.failed(); len(failed) > 0 {
		return report, fmt.Errorf("teardown of %q completed with %d failed step(s)", name, len(failed))
	}
	return report, nil
}
