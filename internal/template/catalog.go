// Package template resolves and renders sandbox definition templates.
//
// A template catalog is a directory of libvirt domain XML documents, one per
// guest-OS family, each keyed by its file name (win11.xml → key "win11").
// An entry may carry a companion introspection profile named <key>.json.
// Documents contain literal REPLACE_* placeholder tokens that are substituted
// at provisioning time.
package template

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Template is an immutable named sandbox definition.
type Template struct {
	// Key is the catalog key, e.g. "win11".
	Key string

	// Path is the location of the definition document in the catalog.
	Path string

	// Document is the raw definition with unresolved placeholders.
	Document string

	// ProfilePath points at the companion introspection profile, or is
	// empty when the entry has none.
	ProfilePath string
}

// Entry describes one catalog entry without loading its document.
type Entry struct {
	Key        string
	HasProfile bool
}

// NotFoundError reports a template key with no catalog entry. The message
// lists the keys that are available so the operator can correct a typo
// without a second lookup.
type NotFoundError struct {
	Key       string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("template %q not found (catalog is empty)", e.Key)
	}
	return fmt.Sprintf("template %q not found (available: %s)", e.Key, strings.Join(e.Available, ", "))
}

// Catalog is a directory-backed template catalog. Lookups always hit the
// directory, never a cache, so templates dropped in at runtime are visible
// without restarting the orchestrator.
type Catalog struct {
	dir string
}

// NewCatalog creates a Catalog over the given directory.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns the sorted keys of all catalog entries.
func (c *Catalog) List() ([]string, error) {
	entries, err := c.Entries()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Entries returns all catalog entries sorted by key.
func (c *Catalog) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog %s: %w", c.dir, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".xml") {
			continue
		}
		key := strings.TrimSuffix(de.Name(), ".xml")
		entries = append(entries, Entry{
			Key:        key,
			HasProfile: c.profileExists(key),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Resolve loads the template for the given key. A missing key yields a
// *NotFoundError carrying the currently available keys.
func (c *Catalog) Resolve(key string) (*Template, error) {
	path := filepath.Join(c.dir, key+".xml")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		available, listErr := c.List()
		if listErr != nil {
			return nil, listErr
		}
		return nil, &NotFoundError{Key: key, Available: available}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	t := &Template{
		Key:      key,
		Path:     path,
		Document: string(data),
	}
	if c.profileExists(key) {
		t.ProfilePath = filepath.Join(c.dir, key+".json")
	}

	return t, nil
}

func (c *Catalog) profileExists(key string) bool {
	_, err := os.Stat(filepath.Join(c.dir, key+".json"))
	return err == nil
}
