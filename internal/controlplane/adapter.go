package controlplane

import (
	"errors"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/internal/metadata"
)

const (
	// Domain states (from libvirt VIR_DOMAIN_* constants)
	domainStateRunning = 1

	// VIR_ERR_NO_DOMAIN
	errNoDomain = 42
)

// Error wraps a failed control-plane call with the operation and the
// instance it targeted.
type Error struct {
	Op    string
	Name  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("control plane %s failed for %q: %v", e.Op, e.Name, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Registration identifies a domain registered with the engine.
type Registration struct {
	Name string
	UUID string
}

// Adapter exposes the engine operations the pipelines depend on. All
// operations are synchronous; failures are typed *Error.
type Adapter interface {
	Exists(name string) (bool, error)
	IsRunning(name string) (bool, error)
	Stop(name string) error
	Undefine(name string, purgeFirmware bool) error
	Define(doc string) (Registration, error)
	Start(name string) error
	UUIDInUse(id string) (bool, error)
	MACInUse(mac string) (bool, error)
	SetInstanceMetadata(name, doc string) error
	InstanceMetadata(name string) (string, error)
}

// LibvirtAdapter implements Adapter over a go-libvirt connection.
type LibvirtAdapter struct {
	l *libvirt.Libvirt
}

// NewLibvirtAdapter creates an Adapter over an established connection.
func NewLibvirtAdapter(l *libvirt.Libvirt) *LibvirtAdapter {
	return &LibvirtAdapter{l: l}
}

// Exists reports whether a domain is registered under name.
func (a *LibvirtAdapter) Exists(name string) (bool, error) {
	_, err := a.l.DomainLookupByName(name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &Error{Op: "lookup", Name: name, Cause: err}
}

// IsRunning reports whether the named domain is currently running.
// An unregistered domain is not running.
func (a *LibvirtAdapter) IsRunning(name string) (bool, error) {
	dom, err := a.l.DomainLookupByName(name)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "lookup", Name: name, Cause: err}
	}

	state, _, err := a.l.DomainGetState(dom, 0)
	if err != nil {
		return false, &Error{Op: "get-state", Name: name, Cause: err}
	}

	return state == domainStateRunning, nil
}

// Stop force-stops the named domain. Sandboxes are disposable; there is
// nothing in the guest worth a graceful shutdown.
func (a *LibvirtAdapter) Stop(name string) error {
	dom, err := a.l.DomainLookupByName(name)
	if err != nil {
		return &Error{Op: "lookup", Name: name, Cause: err}
	}

	if err := a.l.DomainDestroy(dom); err != nil {
		return &Error{Op: "stop", Name: name, Cause: err}
	}
	return nil
}

// Undefine removes the domain's registration. With purgeFirmware the
// engine also reclaims the domain's firmware variable store.
func (a *LibvirtAdapter) Undefine(name string, purgeFirmware bool) error {
	dom, err := a.l.DomainLookupByName(name)
	if err != nil {
		return &Error{Op: "lookup", Name: name, Cause: err}
	}

	var flags libvirt.DomainUndefineFlagsValues
	if purgeFirmware {
		flags |= libvirt.DomainUndefineNvram
	}

	if err := a.l.DomainUndefineFlags(dom, flags); err != nil {
		return &Error{Op: "undefine", Name: name, Cause: err}
	}
	return nil
}

// Define registers a definition document with the engine. The engine
// rejects a definition whose name collides with an existing registration,
// which is the mutual-exclusion guarantee provisioning relies on.
func (a *LibvirtAdapter) Define(doc string) (Registration, error) {
	dom, err := a.l.DomainDefineXML(doc)
	if err != nil {
		return Registration{}, &Error{Op: "define", Name: domainNameFromXML(doc), Cause: err}
	}

	return Registration{
		Name: dom.Name,
		UUID: uuid.UUID(dom.UUID).String(),
	}, nil
}

// Start boots the named domain.
func (a *LibvirtAdapter) Start(name string) error {
	dom, err := a.l.DomainLookupByName(name)
	if err != nil {
		return &Error{Op: "lookup", Name: name, Cause: err}
	}

	if err := a.l.DomainCreate(dom); err != nil {
		return &Error{Op: "start", Name: name, Cause: err}
	}
	return nil
}

// UUIDInUse reports whether any registered domain already carries the UUID.
func (a *LibvirtAdapter) UUIDInUse(id string) (bool, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false, &Error{Op: "uuid-lookup", Name: id, Cause: err}
	}

	_, err = a.l.DomainLookupByUUID(libvirt.UUID(parsed))
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, &Error{Op: "uuid-lookup", Name: id, Cause: err}
}

// MACInUse reports whether any registered domain already carries the MAC.
// The engine has no MAC index, so this walks all registrations and
// inspects their definitions.
func (a *LibvirtAdapter) MACInUse(mac string) (bool, error) {
	domains, _, err := a.l.ConnectListAllDomains(1, 0)
	if err != nil {
		return false, &Error{Op: "list-domains", Name: mac, Cause: err}
	}

	for _, dom := range domains {
		desc, err := a.l.DomainGetXMLDesc(dom, 0)
		if err != nil {
			return false, &Error{Op: "get-xml", Name: dom.Name, Cause: err}
		}

		var parsed libvirtxml.Domain
		if err := parsed.Unmarshal(desc); err != nil {
			return false, &Error{Op: "parse-xml", Name: dom.Name, Cause: err}
		}
		if parsed.Devices == nil {
			continue
		}

		for _, iface := range parsed.Devices.Interfaces {
			if iface.MAC != nil && strings.EqualFold(iface.MAC.Address, mac) {
				return true, nil
			}
		}
	}

	return false, nil
}

// SetInstanceMetadata stores the provisioning record document with the
// named domain.
func (a *LibvirtAdapter) SetInstanceMetadata(name, doc string) error {
	dom, err := a.l.DomainLookupByName(name)
	if err != nil {
		return &Error{Op: "lookup", Name: name, Cause: err}
	}

	err = a.l.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{doc},
		libvirt.OptString{metadata.Key},
		libvirt.OptString{metadata.Namespace},
		libvirt.DomainModificationImpact(0), // flags: replace
	)
	if err != nil {
		return &Error{Op: "set-metadata", Name: name, Cause: err}
	}
	return nil
}

// InstanceMetadata retrieves the provisioning record document stored with
// the named domain.
func (a *LibvirtAdapter) InstanceMetadata(name string) (string, error) {
	dom, err := a.l.DomainLookupByName(name)
	if err != nil {
		return "", &Error{Op: "lookup", Name: name, Cause: err}
	}

	doc, err := a.l.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{metadata.Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return "", &Error{Op: "get-metadata", Name: name, Cause: err}
	}
	return doc, nil
}

// isNotFound reports whether err is the engine's "no such domain" error.
func isNotFound(err error) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == errNoDomain
	}
	return false
}

// domainNameFromXML extracts the domain name from a definition document for
// error context; the document has already been validated by the pipeline.
func domainNameFromXML(doc string) string {
	var parsed libvirtxml.Domain
	if err := parsed.Unmarshal(doc); err != nil {
		return "unknown"
	}
	return parsed.Name
}
