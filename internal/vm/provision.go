package vm

import (
	"context"
	"fmt"
	"log"
	"time"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/internal/artifact"
	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/controlplane"
	"github.com/jbweber/crucible/internal/identity"
	"github.com/jbweber/crucible/internal/metadata"
	"github.com/jbweber/crucible/internal/template"
)

// ProvisionOptions are the operator inputs to one provisioning run.
type ProvisionOptions struct {
	// TemplateKey selects the template from the catalog.
	TemplateKey string

	// Name is the instance name; empty defaults to "<TemplateKey>-sandbox".
	Name string

	// ISOPath is optional install media. A missing file is a warning, not
	// an error; media can be attached after definition.
	ISOPath string
}

// Provision creates a new sandbox instance from a template.
//
// This orchestrates the entire provisioning process:
//  1. Default the instance name
//  2. Refuse names that are already registered
//  3. Resolve the template (fresh catalog lookup)
//  4. Probe install media (non-fatal)
//  5. Generate a hardware identity and collision-check it
//  6. Allocate the disk image (scratch purge policy per config)
//  7. Render and validate the definition document
//  8. Provision the firmware variable store
//  9. Register the definition with the control plane
//
// Any failure aborts immediately. Artifacts written before a registration
// failure remain on disk for teardown to reclaim.
func Provision(ctx context.Context, cfg *config.Config, opts ProvisionOptions) (*Instance, error) {
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

	return provisionWithDeps(opts,
		controlplane.NewLibvirtAdapter(client.Libvirt()),
		template.NewCatalog(cfg.TemplatesDir),
		storeFromConfig(cfg),
		identity.NewGenerator(cfg.MACVendorOUI),
	)
}

// storeFromConfig builds the artifact store for the host configuration.
func storeFromConfig(cfg *config.Config) *artifact.Store {
	return &artifact.Store{
		VMsDir:              cfg.VMsDir,
		NVRAMDir:            cfg.NVRAMDir,
		ProfilesDir:         cfg.ProfilesDir,
		FirmwareSearchPaths: cfg.FirmwareSearchPaths,
		DiskSizeGB:          cfg.DiskSizeGB,
		ScratchName:         cfg.ScratchName,
		PurgeScratchDisk:    cfg.PurgeScratchDisk != nil && *cfg.PurgeScratchDisk,
	}
}

// provisionWithDeps provisions an instance with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func provisionWithDeps(opts ProvisionOptions, cp controlPlane, catalog templateCatalog, store artifactStore, gen identityGenerator) (*Instance, error) {
	name := opts.Name
	if name == "" {
		name = opts.TemplateKey + "-sandbox"
	}

	// Step 1: Refuse already-registered names
	log.Printf("Checking if instance '%s' already exists...", name)
	exists, err := cp.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &AlreadyExistsError{Name: name}
	}

	// Step 2: Resolve the template
	log.Printf("Resolving template '%s'...", opts.TemplateKey)
	tmpl, err := catalog.Resolve(opts.TemplateKey)
	if err != nil {
		return nil, err
	}

	// Step 3: Probe install media (never fatal)
	if opts.ISOPath != "" {
		if ok, reason := store.CheckInstallMedia(opts.ISOPath); !ok {
			log.Printf("Warning: install media %s: %s (media can be attached later)", opts.ISOPath, reason)
		}
	}

	// Step 4: Generate a hardware identity
	log.Printf("Generating hardware identity...")
	id, err := gen.Generate()
	if err != nil {
		return nil, err
	}
	if err := checkIdentityCollisions(cp, id); err != nil {
		return nil, err
	}

	// Step 5: Allocate the disk image
	if err := store.EnsureDirs(); err != nil {
		return nil, err
	}
	log.Printf("Allocating disk image...")
	diskPath, reused, err := store.AllocateDisk(name)
	if err != nil {
		return nil, err
	}
	if reused {
		log.Printf("Keeping existing disk image for '%s'", name)
	}

	// Step 6: Render and validate the definition
	log.Printf("Rendering definition document...")
	doc, err := template.Render(tmpl.Document, template.Vars{
		VMsDir:     store.BaseDir(),
		ISOPath:    opts.ISOPath,
		Name:       name,
		UUID:       id.UUID,
		MAC:        id.MAC,
		Serial:     id.ChassisSerial,
		DiskSerial: id.DiskSerial,
	})
	if err != nil {
		return nil, err
	}
	if err := validateDefinition(doc, name); err != nil {
		return nil, err
	}

	defPath, err := store.WriteDefinition(name, doc)
	if err != nil {
		return nil, err
	}

	// Step 7: Provision the firmware variable store
	log.Printf("Provisioning firmware variable store...")
	nvramPath, err := store.ProvisionFirmwareVars(name)
	if err != nil {
		return nil, err
	}
	// Definitions carry a literal nvram element; a nvram_dir override the
	// template does not know about would leave it pointing elsewhere.
	if declared := definitionNVRAM(doc); declared != "" && declared != nvramPath {
		log.Printf("Warning: definition expects firmware vars at %s but they were provisioned at %s (check nvram_dir against the template)",
			declared, nvramPath)
	}

	// Step 8: Link the introspection profile, if the template has one
	profileLink := ""
	if tmpl.ProfilePath != "" {
		log.Printf("Linking introspection profile...")
		profileLink, err = store.LinkProfile(name, tmpl.ProfilePath)
		if err != nil {
			return nil, err
		}
	}

	// Step 9: Register with the control plane
	log.Printf("Registering instance '%s'...", name)
	if _, err := cp.Define(doc); err != nil {
		// Artifacts stay on disk; teardown or a retried provision
		// reclaims them.
		log.Printf("Registration failed; artifacts for '%s' remain under %s (run teardown to reclaim)",
			name, store.BaseDir())
		return nil, err
	}

	// The provisioning record is advisory; losing it does not invalidate
	// the instance.
	if record, err := metadata.Marshal(&metadata.Record{
		TemplateKey:   opts.TemplateKey,
		UUID:          id.UUID,
		MAC:           id.MAC,
		ChassisSerial: id.ChassisSerial,
		DiskSerial:    id.DiskSerial,
		ProvisionedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("Warning: failed to build provisioning record: %v", err)
	} else if err := cp.SetInstanceMetadata(name, record); err != nil {
		log.Printf("Warning: failed to store provisioning record: %v", err)
	}

	log.Printf("Instance '%s' provisioned successfully", name)
	return &Instance{
		Name:           name,
		TemplateKey:    opts.TemplateKey,
		Identity:       id,
		DiskPath:       diskPath,
		DefinitionPath: defPath,
		NVRAMPath:      nvramPath,
		ProfileLink:    profileLink,
		State:          StateDefined,
	}, nil
}

// checkIdentityCollisions fails when a generated identity field is already
// registered. Two instances must never share an identity field.
func checkIdentityCollisions(cp controlPlane, id identity.Identity) error {
	inUse, err := cp.UUIDInUse(id.UUID)
	if err != nil {
		return err
	}
	if inUse {
		return &IdentityCollisionError{Field: "UUID", Value: id.UUID}
	}

	inUse, err = cp.MACInUse(id.MAC)
	if err != nil {
		return err
	}
	if inUse {
		return &IdentityCollisionError{Field: "MAC", Value: id.MAC}
	}

	return nil
}

// definitionNVRAM extracts the firmware variable store path a definition
// declares, or "" when it declares none.
func definitionNVRAM(doc string) string {
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(doc); err != nil || dom.OS == nil || dom.OS.NVRam == nil {
		return ""
	}
	return dom.OS.NVRam.NVRam
}

// validateDefinition checks that the rendered document is well-formed
// domain XML naming the instance it will be registered under.
func validateDefinition(doc, name string) error {
	var dom libvirtxml.Domain
	if err := dom.Unmarshal(doc); err != nil {
		return fmt.Errorf("rendered definition for %q is not valid domain XML: %w", name, err)
	}
	if dom.Name != name {
		return fmt.Errorf("rendered definition names %q, want %q", dom.Name, name)
	}
	return nil
}
