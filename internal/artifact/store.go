// Package artifact manages the on-disk state backing a sandbox instance:
// the disk image, the rendered definition document, the firmware variable
// store, and the optional introspection profile link. All paths derive
// deterministically from the instance name, so distinct instances never
// contend for the same file.
//
// NOTE: Disk images are created with qemu-img and plain filesystem
// operations rather than libvirt storage pools. The sandbox host keeps its
// artifacts in a flat per-instance layout that the operator can inspect and
// reclaim directly, which pools would only obscure.
package artifact

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

const (
	// DefaultDiskSizeGB is the capacity of newly allocated disk images.
	DefaultDiskSizeGB = 64

	// DirPermissions are the permissions for artifact directories.
	DirPermissions = 0o755

	// FilePermissions are the permissions for artifact files.
	FilePermissions = 0o644
)

// Store manages the artifacts of all instances on one host.
type Store struct {
	// VMsDir holds disk images and rendered definitions.
	VMsDir string

	// NVRAMDir holds per-instance firmware variable stores.
	NVRAMDir string

	// ProfilesDir holds per-instance introspection profile links.
	ProfilesDir string

	// FirmwareSearchPaths are candidate base variable-store images,
	// Secure-Boot-signed variants first.
	FirmwareSearchPaths []string

	// DiskSizeGB is the capacity for new disk images.
	DiskSizeGB int

	// ScratchName is the one reserved instance name whose stale disk is
	// purged and recreated instead of reused (see PurgeScratchDisk).
	ScratchName string

	// PurgeScratchDisk enables the purge-and-recreate policy for
	// ScratchName. All other names reuse an existing valid image.
	PurgeScratchDisk bool
}

// BaseDir returns the directory holding disk images and definitions.
func (s *Store) BaseDir() string {
	return s.VMsDir
}

// DiskPath returns the disk image path for an instance name.
func (s *Store) DiskPath(name string) string {
	return filepath.Join(s.VMsDir, name+".qcow2")
}

// DefinitionPath returns the rendered definition path for an instance name.
func (s *Store) DefinitionPath(name string) string {
	return filepath.Join(s.VMsDir, name+".xml")
}

// NVRAMPath returns the firmware variable store path for an instance name.
func (s *Store) NVRAMPath(name string) string {
	return filepath.Join(s.NVRAMDir, name+"_VARS.fd")
}

// ProfileLinkPath returns the introspection profile link path for an
// instance name.
func (s *Store) ProfileLinkPath(name string) string {
	return filepath.Join(s.ProfilesDir, name+".json")
}

// EnsureDirs creates the artifact directories if they do not exist.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.VMsDir, s.NVRAMDir, s.ProfilesDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return &IOError{Op: "mkdir", Path: dir, Cause: err}
		}
	}
	return nil
}

// AllocateDisk ensures a disk image exists for the instance. If an image is
// already present it is reused, except for the reserved scratch name, which
// is purged and recreated when the policy is enabled. Returns the image
// path and whether an existing image was reused.
func (s *Store) AllocateDisk(name string) (string, bool, error) {
	path := s.DiskPath(name)

	if _, err := os.Stat(path); err == nil {
		if s.PurgeScratchDisk && name == s.ScratchName {
			log.Printf("Purging stale scratch disk %s...", path)
			if err := os.Remove(path); err != nil {
				return "", false, &DiskAllocationError{Path: path, Cause: err}
			}
		} else {
			log.Printf("Reusing existing disk image %s", path)
			return path, true, nil
		}
	}

	size := s.DiskSizeGB
	if size <= 0 {
		size = DefaultDiskSizeGB
	}

	cmd := exec.Command(
		"qemu-img", "create",
		"-f", "qcow2",
		path,
		fmt.Sprintf("%dG", size),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", false, &DiskAllocationError{
			Path:  path,
			Cause: fmt.Errorf("%w\nOutput: %s", err, string(output)),
		}
	}

	return path, false, nil
}

// ProvisionFirmwareVars copies the first existing base variable-store image
// from the search paths to the instance's NVRAM path. The search order puts
// Secure-Boot-signed variants first; if no candidate exists the result is a
// *FirmwareVarsNotFoundError.
func (s *Store) ProvisionFirmwareVars(name string) (string, error) {
	dst := s.NVRAMPath(name)

	for _, src := range s.FirmwareSearchPaths {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
		log.Printf("Provisioned firmware variable store from %s", src)
		return dst, nil
	}

	return "", &FirmwareVarsNotFoundError{Searched: s.FirmwareSearchPaths}
}

// WriteDefinition persists the rendered definition document for an instance.
func (s *Store) WriteDefinition(name, doc string) (string, error) {
	path := s.DefinitionPath(name)
	if err := os.WriteFile(path, []byte(doc), FilePermissions); err != nil {
		return "", &IOError{Op: "write", Path: path, Cause: err}
	}
	return path, nil
}

// LinkProfile links the template's introspection profile under the instance
// name so introspection tooling can find it without knowing the template.
// An existing link for the name is replaced.
func (s *Store) LinkProfile(name, profilePath string) (string, error) {
	link := s.ProfileLinkPath(name)

	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return "", &IOError{Op: "remove", Path: link, Cause: err}
	}
	if err := os.Symlink(profilePath, link); err != nil {
		return "", &IOError{Op: "symlink", Path: link, Cause: err}
	}

	return link, nil
}

// RemoveDisk deletes the instance's disk image. It reports whether the
// image was found; absence is not an error.
func (s *Store) RemoveDisk(name string) (bool, error) {
	return s.remove(s.DiskPath(name))
}

// RemoveDefinition deletes the instance's rendered definition.
func (s *Store) RemoveDefinition(name string) (bool, error) {
	return s.remove(s.DefinitionPath(name))
}

// RemoveNVRAM deletes a leftover firmware variable store. The control plane
// normally reclaims it during undefine; this catches the copy left behind
// when registration never happened.
func (s *Store) RemoveNVRAM(name string) (bool, error) {
	return s.remove(s.NVRAMPath(name))
}

// RemoveProfileLink deletes the instance's introspection profile link.
func (s *Store) RemoveProfileLink(name string) (bool, error) {
	link := s.ProfileLinkPath(name)

	// Lstat: the link itself may point at a profile that is already gone.
	if _, err := os.Lstat(link); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, &IOError{Op: "stat", Path: link, Cause: err}
	}

	if err := os.Remove(link); err != nil {
		return true, &IOError{Op: "remove", Path: link, Cause: err}
	}
	return true, nil
}

// CheckInstallMedia probes the install media at path. Absence or an
// unreadable image is never fatal at definition time; the returned reason
// describes the problem for the operator.
func (s *Store) CheckInstallMedia(path string) (ok bool, reason string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, "file does not exist"
		}
		return false, err.Error()
	}
	defer f.Close()

	if _, err := iso9660.OpenImage(f); err != nil {
		return false, fmt.Sprintf("not readable as an ISO 9660 image: %v", err)
	}

	return true, ""
}

func (s *Store) remove(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, &IOError{Op: "stat", Path: path, Cause: err}
	}

	if err := os.Remove(path); err != nil {
		return true, &IOError{Op: "remove", Path: path, Cause: err}
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IOError{Op: "open", Path: src, Cause: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return &IOError{Op: "create", Path: dst, Cause: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &IOError{Op: "copy", Path: dst, Cause: err}
	}

	if err := out.Close(); err != nil {
		return &IOError{Op: "close", Path: dst, Cause: err}
	}
	return nil
}
