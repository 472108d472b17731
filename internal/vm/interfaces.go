package vm

import (
	"github.com/jbweber/crucible/internal/controlplane"
	"github.com/jbweber/crucible/internal/identity"
	"github.com/jbweber/crucible/internal/template"
)

// controlPlane defines the engine operations the pipelines need.
//
// In production, this is satisfied by *controlplane.LibvirtAdapter.
// In tests, this is satisfied by mock implementations.
type controlPlane interface {
	Exists(name string) (bool, error)
	IsRunning(name string) (bool, error)
	Stop(name string) error
	Undefine(name string, purgeFirmware bool) error
	Define(doc string) (controlplane.Registration, error)
	Start(name string) error
	UUIDInUse(id string) (bool, error)
	MACInUse(mac string) (bool, error)
	SetInstanceMetadata(name, doc string) error
	InstanceMetadata(name string) (string, error)
}

// templateCatalog defines the template lookups the pipelines need.
//
// In production, this is satisfied by *template.Catalog.
type templateCatalog interface {
	Resolve(key string) (*template.Template, error)
}

// artifactStore defines the on-disk state operations the pipelines need.
//
// In production, this is satisfied by *artifact.Store.
type artifactStore interface {
	BaseDir() string
	EnsureDirs() error
	AllocateDisk(name string) (path string, reused bool, err error)
	ProvisionFirmwareVars(name string) (string, error)
	WriteDefinition(name, doc string) (string, error)
	LinkProfile(name, profilePath string) (string, error)
	CheckInstallMedia(path string) (ok bool, reason string)
	RemoveDisk(name string) (bool, error)
	RemoveDefinition(name string) (bool, error)
	RemoveNVRAM(name string) (bool, error)
	RemoveProfileLink(name string) (bool, error)
}

// identityGenerator produces the hardware identity for a new instance.
//
// In production, this is satisfied by *identity.Generator.
type identityGenerator interface {
	Generate() (identity.Identity, error)
}
