package vm

import (
	"fmt"

	"github.com/jbweber/crucible/internal/controlplane"
	"github.com/jbweber/crucible/internal/identity"
	"github.com/jbweber/crucible/internal/template"
)

// mockControlPlane implements controlPlane for testing. Behavior can be
// overridden per call via the *Func fields; by default it acts like an
// engine with the configured registered/running sets.
type mockControlPlane struct {
	registered map[string]bool
	running    map[string]bool

	uuidInUse bool
	macInUse  bool

	existsFunc   func(name string) (bool, error)
	defineFunc   func(doc string) (controlplane.Registration, error)
	stopFunc     func(name string) error
	undefineFunc func(name string, purgeFirmware bool) error

	defineCalls   []string
	startCalls    []string
	stopCalls     []string
	undefineCalls []string
	metadataDocs  map[string]string
}

func newMockControlPlane() *mockControlPlane {
	return &mockControlPlane{
		registered:   make(map[string]bool),
		running:      make(map[string]bool),
		metadataDocs: make(map[string]string),
	}
}

func (m *mockControlPlane) Exists(name string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(name)
	}
	return m.registered[name], nil
}

func (m *mockControlPlane) IsRunning(name string) (bool, error) {
	return m.running[name], nil
}

func (m *mockControlPlane) Stop(name string) error {
	m.stopCalls = append(m.stopCalls, name)
	if m.stopFunc != nil {
		return m.stopFunc(name)
	}
	delete(m.running, name)
	return nil
}

func (m *mockControlPlane) Undefine(name string, purgeFirmware bool) error {
	m.undefineCalls = append(m.undefineCalls, name)
	if m.undefineFunc != nil {
		return m.undefineFunc(name, purgeFirmware)
	}
	delete(m.registered, name)
	return nil
}

func (m *mockControlPlane) Define(doc string) (controlplane.Registration, error) {
	m.defineCalls = append(m.defineCalls, doc)
	if m.defineFunc != nil {
		return m.defineFunc(doc)
	}
	return controlplane.Registration{}, nil
}

func (m *mockControlPlane) Start(name string) error {
	m.startCalls = append(m.startCalls, name)
	m.running[name] = true
	return nil
}

func (m *mockControlPlane) UUIDInUse(string) (bool, error) { return m.uuidInUse, nil }
func (m *mockControlPlane) MACInUse(string) (bool, error)  { return m.macInUse, nil }

func (m *mockControlPlane) SetInstanceMetadata(name, doc string) error {
	m.metadataDocs[name] = doc
	return nil
}

func (m *mockControlPlane) InstanceMetadata(name string) (string, error) {
	doc, ok := m.metadataDocs[name]
	if !ok {
		return "", &controlplane.Error{Op: "get-metadata", Name: name, Cause: fmt.Errorf("no metadata")}
	}
	return doc, nil
}

// mockCatalog implements templateCatalog over an in-memory map.
type mockCatalog struct {
	templates map[string]*template.Template
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{templates: make(map[string]*template.Template)}
}

func (m *mockCatalog) add(key, doc string) *template.Template {
	t := &template.Template{Key: key, Document: doc}
	m.templates[key] = t
	return t
}

func (m *mockCatalog) Resolve(key string) (*template.Template, error) {
	t, ok := m.templates[key]
	if !ok {
		keys := make([]string, 0, len(m.templates))
		for k := range m.templates {
			keys = append(keys, k)
		}
		return nil, &template.NotFoundError{Key: key, Available: keys}
	}
	return t, nil
}

// mockStore implements artifactStore without touching the filesystem. It
// tracks which artifacts exist per instance name.
type mockStore struct {
	disks       map[string]bool
	definitions map[string]string
	nvram       map[string]bool
	links       map[string]bool

	allocateErr error
	firmwareErr error
	writeErr    error
	removeErrs  map[string]error // keyed by step-ish name: "disk", "definition", "nvram", "link"

	mediaOK     bool
	mediaReason string
	mediaChecks []string
}

func newMockStore() *mockStore {
	return &mockStore{
		disks:       make(map[string]bool),
		definitions: make(map[string]string),
		nvram:       make(map[string]bool),
		links:       make(map[string]bool),
		removeErrs:  make(map[string]error),
		mediaOK:     true,
	}
}

func (m *mockStore) BaseDir() string   { return "/vms" }
func (m *mockStore) EnsureDirs() error { return nil }

func (m *mockStore) AllocateDisk(name string) (string, bool, error) {
	if m.allocateErr != nil {
		return "", false, m.allocateErr
	}
	reused := m.disks[name]
	m.disks[name] = true
	return "/vms/" + name + ".qcow2", reused, nil
}

func (m *mockStore) ProvisionFirmwareVars(name string) (string, error) {
	if m.firmwareErr != nil {
		return "", m.firmwareErr
	}
	m.nvram[name] = true
	return "/nvram/" + name + "_VARS.fd", nil
}

func (m *mockStore) WriteDefinition(name, doc string) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	m.definitions[name] = doc
	return "/vms/" + name + ".xml", nil
}

func (m *mockStore) LinkProfile(name, profilePath string) (string, error) {
	m.links[name] = true
	return "/profiles/" + name + ".json", nil
}

func (m *mockStore) CheckInstallMedia(path string) (bool, string) {
	m.mediaChecks = append(m.mediaChecks, path)
	return m.mediaOK, m.mediaReason
}

func (m *mockStore) RemoveDisk(name string) (bool, error) {
	return m.removeFrom(m.disks, name, "disk")
}

func (m *mockStore) RemoveDefinition(name string) (bool, error) {
	if err := m.removeErrs["definition"]; err != nil {
		return true, err
	}
	_, found := m.definitions[name]
	delete(m.definitions, name)
	return found, nil
}

func (m *mockStore) RemoveNVRAM(name string) (bool, error) {
	return m.removeFrom(m.nvram, name, "nvram")
}

func (m *mockStore) RemoveProfileLink(name string) (bool, error) {
	return m.removeFrom(m.links, name, "link")
}

func (m *mockStore) removeFrom(set map[string]bool, name, kind string) (bool, error) {
	if err := m.removeErrs[kind]; err != nil {
		return true, err
	}
	found := set[name]
	delete(set, name)
	return found, nil
}

// fixedIdentity implements identityGenerator with a canned identity.
type fixedIdentity struct {
	id  identity.Identity
	err error
}

func (f *fixedIdentity) Generate() (identity.Identity, error) {
	if f.err != nil {
		return identity.Identity{}, f.err
	}
	return f.id, nil
}

func testIdentity() identity.Identity {
	return identity.Identity{
		UUID:          "8c7e5b1a-0000-4000-8000-123456789abc",
		MAC:           "00:1b:21:aa:bb:cc",
		ChassisSerial: "ABCDEFGHIJKLMNO",
		DiskSerial:    "ABCDEF123456",
	}
}

// testDocument is a minimal valid template document covering every token.
func testDocument() string {
	return fmt.Sprintf(`<domain type="kvm">
  <name>%s</name>
  <uuid>%s</uuid>
  <devices>
    <disk type="file"><source file="%s/%s.qcow2"/><serial>%s</serial></disk>
    <disk type="file" device="cdrom"><source file="%s"/></disk>
    <interface type="bridge"><mac address="%s"/></interface>
  </devices>
</domain>`,
		template.TokenName, template.TokenUUID,
		template.TokenVMsDir, template.TokenName, template.TokenDiskSerial,
		template.TokenISOPath, template.TokenMAC)
}
