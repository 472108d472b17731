package vm

import "fmt"

// AlreadyExistsError reports a provisioning attempt against a name that is
// already registered with the control plane. Provisioning never overwrites
// an existing instance.
type AlreadyExistsError struct {
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("instance %q already exists (tear it down first)", e.Name)
}

// IdentityCollisionError reports a generated identity field that is already
// in use by a registered instance. With a healthy random source this should
// never happen.
type IdentityCollisionError struct {
	Field string
	Value string
}

func (e *IdentityCollisionError) Error() string {
	return fmt.Sprintf("generated %s %q collides with a registered instance", e.Field, e.Value)
}
