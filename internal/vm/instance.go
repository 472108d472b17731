package vm

import "github.com/jbweber/crucible/internal/identity"

// State is an instance lifecycle state. Defined/running/stopped transitions
// after provisioning are owned by the control plane.
type State string

const (
	StateAbsent       State = "absent"
	StateProvisioning State = "provisioning"
	StateDefined      State = "defined"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
)

// Instance is the materialized record of a provisioned sandbox: the chosen
// name, the template it came from, its hardware identity, and the artifact
// paths backing it.
type Instance struct {
	Name        string
	TemplateKey string
	Identity    identity.Identity

	DiskPath       string
	DefinitionPath string
	NVRAMPath      string
	ProfileLink    string

	State State
}

// currentState derives the lifecycle state of a name from the control plane.
func currentState(cp controlPlane, name string) (State, error) {
	exists, err := cp.Exists(name)
	if err != nil {
		return StateAbsent, err
	}
	if !exists {
		return StateAbsent, nil
	}

	running, err := cp.IsRunning(name)
	if err != nil {
		return StateAbsent, err
	}
	if running {
		return StateRunning, nil
	}
	return StateStopped, nil
}
