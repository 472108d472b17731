// Package metadata serializes the provisioning record of a sandbox instance
// for storage in the virtualization engine's custom domain metadata. The
// record persists with the domain itself, so teardown and inspection tooling
// can recover how an instance was provisioned without external state.
package metadata

import (
	"encoding/xml"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Namespace is the XML namespace for crucible metadata.
	Namespace = "https://crucible.cofront.xyz/v1"

	// Key is the key used to store/retrieve metadata from the engine.
	Key = "crucible-instance"
)

// Record is the provisioning record stored with a domain.
type Record struct {
	TemplateKey   string    `yaml:"template"`
	UUID          string    `yaml:"uuid"`
	MAC           string    `yaml:"mac"`
	ChassisSerial string    `yaml:"chassis_serial"`
	DiskSerial    string    `yaml:"disk_serial"`
	ProvisionedAt time.Time `yaml:"provisioned_at"`
}

// wrapper is the XML envelope around the YAML record. The record is stored
// as YAML text for easy human readability when inspecting the domain XML
// directly.
type wrapper struct {
	XMLName xml.Name `xml:"instance"`
	Xmlns   string   `xml:"xmlns,attr"`
	YAML    string   `xml:",innerxml"`
}

// Marshal renders a Record as the XML document stored in domain metadata.
func Marshal(rec *Record) (string, error) {
	yamlData, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance record to YAML: %w", err)
	}

	xmlData, err := xml.MarshalIndent(wrapper{
		Xmlns: Namespace,
		YAML:  string(yamlData),
	}, "  ", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance record to XML: %w", err)
	}

	return string(xmlData), nil
}

// Unmarshal parses a metadata document back into a Record.
func Unmarshal(doc string) (*Record, error) {
	var w wrapper
	if err := xml.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var rec Record
	if err := yaml.Unmarshal([]byte(w.YAML), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance record from YAML: %w", err)
	}

	return &rec, nil
}
