// Package identity generates randomized hardware identities for sandbox VMs.
//
// Every instance gets a fresh UUID, MAC address, chassis serial, and disk
// serial so that a guest cannot be fingerprinted by the hypervisor's stock
// hardware signatures. The MAC uses a real NIC vendor OUI instead of the
// 52:54:00 prefix the virtualization engine assigns by default.
package identity

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultOUI is the vendor prefix used for generated MAC addresses.
	// This is an Intel OUI; any real vendor prefix works, but it must
	// never be the engine's reserved 52:54:00 block.
	DefaultOUI = "00:1b:21"

	// EngineOUI is the virtualization engine's reserved vendor prefix.
	// Generated MACs must never carry it.
	EngineOUI = "52:54:00"

	// ChassisSerialLength matches the serial format of physical chassis.
	ChassisSerialLength = 15

	// DiskSerialLength matches the serial format of physical SATA disks.
	DiskSerialLength = 12
)

// serialCharset is the restricted character set for hardware serials.
const serialCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Identity is the randomized hardware tuple assigned to one VM instance.
// It is generated once at provisioning time and immutable thereafter.
type Identity struct {
	UUID          string
	MAC           string
	ChassisSerial string
	DiskSerial    string
}

// Generator produces hardware identities with a configurable MAC vendor
// prefix. The zero value is not usable; use NewGenerator.
type Generator struct {
	oui string
}

// NewGenerator creates a Generator using the given MAC vendor OUI
// (e.g. "00:1b:21"). An empty OUI falls back to DefaultOUI.
func NewGenerator(oui string) *Generator {
	if oui == "" {
		oui = DefaultOUI
	}
	return &Generator{oui: oui}
}

// OUI returns the vendor prefix this generator stamps onto MACs.
func (g *Generator) OUI() string {
	return g.oui
}

// Generate produces a fresh Identity. Each field is drawn from its own
// crypto/rand read, so no field is derivable from another. The only
// failure mode is exhaustion of the random source, which indicates host
// misconfiguration and is returned immediately without retry.
func (g *Generator) Generate() (Identity, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate instance UUID: %w", err)
	}

	mac, err := g.generateMAC()
	if err != nil {
		return Identity{}, err
	}

	chassis, err := randomSerial(ChassisSerialLength)
	if err != nil {
		return Identity{}, err
	}

	disk, err := randomSerial(DiskSerialLength)
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		UUID:          id.String(),
		MAC:           mac,
		ChassisSerial: chassis,
		DiskSerial:    disk,
	}, nil
}

// generateMAC produces a MAC with the configured vendor OUI as the first
// three octets and random lower octets.
func (g *Generator) generateMAC() (string, error) {
	var tail [3]byte
	if _, err := rand.Read(tail[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes for MAC: %w", err)
	}

	return fmt.Sprintf("%s:%02x:%02x:%02x", g.oui, tail[0], tail[1], tail[2]), nil
}

// randomSerial produces an uppercase alphanumeric serial of the given length.
func randomSerial(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for serial: %w", err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		out[i] = serialCharset[int(b)%len(serialCharset)]
	}

	return string(out), nil
}
