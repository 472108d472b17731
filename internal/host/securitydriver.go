// Package host applies host-level preconditions the sandboxes depend on.
//
// Each precondition is an idempotent check-and-apply step with its own
// audit log entry, so a change to shared host state is never a silent side
// effect of provisioning.
package host

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
)

// securityDriverLine is the qemu.conf setting that disables the engine's
// security isolation. A custom-built engine binary is unknown to the
// host's isolation policy and cannot start guests while isolation is on.
const securityDriverLine = `security_driver = "none"`

// EnsureSecurityDriver checks that qemu.conf disables the security driver
// and appends the setting when absent. It reports whether the file was
// changed. A conflicting explicit setting is surfaced to the operator
// rather than overwritten.
func EnsureSecurityDriver(confPath string) (bool, error) {
	current, err := readSecurityDriver(confPath)
	if err != nil {
		return false, err
	}

	switch current {
	case "none":
		log.Printf("[audit] security_driver already \"none\" in %s, no change", confPath)
		return false, nil
	case "":
		// unset, append below
	default:
		return false, fmt.Errorf(
			"qemu.conf %s sets security_driver = %q; refusing to overwrite, set it to \"none\" manually",
			confPath, current)
	}

	f, err := os.OpenFile(confPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return false, fmt.Errorf("failed to open %s for append: %w", confPath, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n# added by crucible: allow custom engine binary\n%s\n", securityDriverLine); err != nil {
		return false, fmt.Errorf("failed to append security_driver setting to %s: %w", confPath, err)
	}

	log.Printf("[audit] appended %s to %s", securityDriverLine, confPath)
	return true, nil
}

// readSecurityDriver returns the uncommented security_driver value from
// qemu.conf, or "" when the setting is absent.
func readSecurityDriver(confPath string) (string, error) {
	f, err := os.Open(confPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", confPath, err)
	}
	defer f.Close()

	value := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") || !strings.HasPrefix(line, "security_driver") {
			continue
		}

		_, rest, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		// later assignments win, matching how the engine parses the file
		value = strings.Trim(strings.TrimSpace(rest), `"`)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", confPath, err)
	}

	return value, nil
}
