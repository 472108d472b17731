package artifact

import (
	"fmt"
	"strings"
)

// DiskAllocationError reports a failed disk image allocation.
type DiskAllocationError struct {
	Path  string
	Cause error
}

func (e *DiskAllocationError) Error() string {
	return fmt.Sprintf("failed to allocate disk image %s: %v", e.Path, e.Cause)
}

func (e *DiskAllocationError) Unwrap() error { return e.Cause }

// FirmwareVarsNotFoundError reports that no base firmware variable store
// image exists at any of the searched locations.
type FirmwareVarsNotFoundError struct {
	Searched []string
}

func (e *FirmwareVarsNotFoundError) Error() string {
	return fmt.Sprintf("no base firmware variable store found (searched: %s)",
		strings.Join(e.Searched, ", "))
}

// IOError reports a filesystem failure while creating or deleting an
// instance artifact.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("artifact %s failed for %s: %v", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error { return e.Cause }
