package artifact

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s := &Store{
		VMsDir:      filepath.Join(base, "vms"),
		NVRAMDir:    filepath.Join(base, "nvram"),
		ProfilesDir: filepath.Join(base, "profiles"),
		DiskSizeGB:  1,
		ScratchName: "win11-sandbox",
	}
	if err := s.EnsureDirs(); err != nil {
		t.Fatalf("failed to create artifact dirs: %v", err)
	}
	return s
}

func TestStorePaths(t *testing.T) {
	s := testStore(t)

	if got := s.DiskPath("sbx-1"); got != filepath.Join(s.VMsDir, "sbx-1.qcow2") {
		t.Errorf("unexpected disk path %q", got)
	}
	if got := s.DefinitionPath("sbx-1"); got != filepath.Join(s.VMsDir, "sbx-1.xml") {
		t.Errorf("unexpected definition path %q", got)
	}
	if got := s.NVRAMPath("sbx-1"); got != filepath.Join(s.NVRAMDir, "sbx-1_VARS.fd") {
		t.Errorf("unexpected nvram path %q", got)
	}
	if got := s.ProfileLinkPath("sbx-1"); got != filepath.Join(s.ProfilesDir, "sbx-1.json") {
		t.Errorf("unexpected profile link path %q", got)
	}
}

func TestAllocateDisk_ReusesExistingImage(t *testing.T) {
	s := testStore(t)

	// A stale image for a non-scratch name is reused, not recreated.
	existing := s.DiskPath("sbx-1")
	if err := os.WriteFile(existing, []byte("qcow2data"), 0o644); err != nil {
		t.Fatalf("failed to seed disk image: %v", err)
	}

	path, reused, err := s.AllocateDisk("sbx-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !reused {
		t.Error("expected existing image to be reused")
	}
	if path != existing {
		t.Errorf("unexpected path %q", path)
	}

	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "qcow2data" {
		t.Errorf("existing image was mutated: %q, %v", data, err)
	}
}

func TestAllocateDisk_PurgesStaleScratchDisk(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Check if qemu-img is available
	if _, err := exec.LookPath("qemu-img"); err != nil {
		t.Skip("qemu-img not found, skipping test")
	}

	s := testStore(t)
	s.PurgeScratchDisk = true

	stale := s.DiskPath(s.ScratchName)
	if err := os.WriteFile(stale, []byte("stale-image"), 0o644); err != nil {
		t.Fatalf("failed to seed stale scratch disk: %v", err)
	}

	path, reused, err := s.AllocateDisk(s.ScratchName)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if reused {
		t.Error("scratch disk must be recreated, not reused")
	}
	if path != stale {
		t.Errorf("unexpected path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read recreated image: %v", err)
	}
	if string(data) == "stale-image" {
		t.Error("stale scratch image survived the purge")
	}
}

func TestAllocateDisk_ScratchReusedWhenPurgeDisabled(t *testing.T) {
	s := testStore(t)

	stale := s.DiskPath(s.ScratchName)
	if err := os.WriteFile(stale, []byte("stale-image"), 0o644); err != nil {
		t.Fatalf("failed to seed scratch disk: %v", err)
	}

	_, reused, err := s.AllocateDisk(s.ScratchName)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !reused {
		t.Error("scratch disk must be reused when the purge policy is off")
	}
	if data, _ := os.ReadFile(stale); string(data) != "stale-image" {
		t.Errorf("disk was mutated with the purge policy off: %q", data)
	}
}

func TestProvisionFirmwareVars_PrefersFirstCandidate(t *testing.T) {
	s := testStore(t)
	fwDir := t.TempDir()

	secboot := filepath.Join(fwDir, "OVMF_VARS.secboot.fd")
	plain := filepath.Join(fwDir, "OVMF_VARS.fd")
	if err := os.WriteFile(secboot, []byte("secboot-vars"), 0o644); err != nil {
		t.Fatalf("failed to seed firmware image: %v", err)
	}
	if err := os.WriteFile(plain, []byte("plain-vars"), 0o644); err != nil {
		t.Fatalf("failed to seed firmware image: %v", err)
	}
	s.FirmwareSearchPaths = []string{secboot, plain}

	path, err := s.ProvisionFirmwareVars("sbx-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read provisioned vars: %v", err)
	}
	if string(data) != "secboot-vars" {
		t.Errorf("expected Secure Boot variant, got %q", data)
	}
}

func TestProvisionFirmwareVars_FallsBack(t *testing.T) {
	s := testStore(t)
	fwDir := t.TempDir()

	plain := filepath.Join(fwDir, "OVMF_VARS.fd")
	if err := os.WriteFile(plain, []byte("plain-vars"), 0o644); err != nil {
		t.Fatalf("failed to seed firmware image: %v", err)
	}
	s.FirmwareSearchPaths = []string{filepath.Join(fwDir, "missing.fd"), plain}

	path, err := s.ProvisionFirmwareVars("sbx-1")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "plain-vars" {
		t.Errorf("expected fallback variant, got %q", data)
	}
}

func TestProvisionFirmwareVars_NoneFound(t *testing.T) {
	s := testStore(t)
	s.FirmwareSearchPaths = []string{"/nonexistent/a.fd", "/nonexistent/b.fd"}

	_, err := s.ProvisionFirmwareVars("sbx-1")
	if err == nil {
		t.Fatal("expected error when no firmware image exists")
	}

	var notFound *FirmwareVarsNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected FirmwareVarsNotFoundError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "/nonexistent/a.fd") {
		t.Errorf("error does not list searched paths: %v", err)
	}
}

func TestWriteAndRemoveDefinition(t *testing.T) {
	s := testStore(t)

	path, err := s.WriteDefinition("sbx-1", "<domain/>")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "<domain/>" {
		t.Errorf("definition did not round-trip: %q", data)
	}

	found, err := s.RemoveDefinition("sbx-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !found {
		t.Error("expected definition to be found")
	}

	found, err = s.RemoveDefinition("sbx-1")
	if err != nil {
		t.Fatalf("second remove must be tolerant: %v", err)
	}
	if found {
		t.Error("expected definition to be absent on second remove")
	}
}

func TestLinkProfile(t *testing.T) {
	s := testStore(t)

	profile := filepath.Join(t.TempDir(), "win11.json")
	if err := os.WriteFile(profile, []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}

	link, err := s.LinkProfile("sbx-1", profile)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("expected a symlink: %v", err)
	}
	if target != profile {
		t.Errorf("link points at %q, want %q", target, profile)
	}

	// Linking again replaces the old link.
	if _, err := s.LinkProfile("sbx-1", profile); err != nil {
		t.Fatalf("relink failed: %v", err)
	}

	found, err := s.RemoveProfileLink("sbx-1")
	if err != nil || !found {
		t.Fatalf("expected link removal, got found=%v err=%v", found, err)
	}

	found, err = s.RemoveProfileLink("sbx-1")
	if err != nil || found {
		t.Fatalf("expected absent link to be tolerated, got found=%v err=%v", found, err)
	}
}

func TestRemoveProfileLink_DanglingLink(t *testing.T) {
	s := testStore(t)

	// The profile a link points at may be gone; the link must still be
	// detected and removed.
	if err := os.Symlink("/nonexistent/win11.json", s.ProfileLinkPath("sbx-1")); err != nil {
		t.Fatalf("failed to create dangling link: %v", err)
	}

	found, err := s.RemoveProfileLink("sbx-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !found {
		t.Error("expected dangling link to be found")
	}
}

func TestRemoveDisk_AbsentIsNotAnError(t *testing.T) {
	s := testStore(t)

	found, err := s.RemoveDisk("nonexistent")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if found {
		t.Error("expected disk to be absent")
	}
}

func TestCheckInstallMedia(t *testing.T) {
	s := testStore(t)

	ok, reason := s.CheckInstallMedia("/nonexistent/win11.iso")
	if ok {
		t.Error("expected missing media to fail the check")
	}
	if !strings.Contains(reason, "does not exist") {
		t.Errorf("unexpected reason %q", reason)
	}

	// A present file that is not a valid ISO image is reported, not fatal.
	bogus := filepath.Join(t.TempDir(), "bogus.iso")
	if err := os.WriteFile(bogus, []byte("not an iso"), 0o644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}
	ok, reason = s.CheckInstallMedia(bogus)
	if ok {
		t.Error("expected bogus media to fail the check")
	}
	if reason == "" {
		t.Error("expected a diagnostic reason")
	}
}
