package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder tokens substituted verbatim into definition documents.
// Any other REPLACE_-prefixed token surviving substitution is a
// template authoring error surfaced as *RenderError.
const (
	TokenVMsDir     = "REPLACE_VMS_DIR"
	TokenISOPath    = "REPLACE_ISO_PATH"
	TokenName       = "REPLACE_NAME"
	TokenUUID       = "REPLACE_UUID"
	TokenMAC        = "REPLACE_MAC"
	TokenSerial     = "REPLACE_SERIAL"
	TokenDiskSerial = "REPLACE_DISK_SERIAL"
)

// Vars holds the substitution values for one render.
type Vars struct {
	VMsDir     string
	ISOPath    string
	Name       string
	UUID       string
	MAC        string
	Serial     string
	DiskSerial string
}

// RenderError reports placeholder tokens left unresolved after substitution.
type RenderError struct {
	Placeholders []string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("definition contains unresolved placeholders: %s",
		strings.Join(e.Placeholders, ", "))
}

// placeholderPattern matches any placeholder-shaped token.
var placeholderPattern = regexp.MustCompile(`REPLACE_[A-Z_]+`)

// Render substitutes the fixed token set into doc. It fails with a
// *RenderError if any REPLACE_-prefixed token remains afterwards, so a raw
// placeholder can never reach the control plane.
func Render(doc string, vars Vars) (string, error) {
	r := strings.NewReplacer(
		TokenVMsDir, vars.VMsDir,
		TokenISOPath, vars.ISOPath,
		TokenName, vars.Name,
		TokenUUID, vars.UUID,
		TokenMAC, vars.MAC,
		TokenDiskSerial, vars.DiskSerial,
		TokenSerial, vars.Serial,
	)

	out := r.Replace(doc)

	if leftover := placeholderPattern.FindAllString(out, -1); len(leftover) > 0 {
		return "", &RenderError{Placeholders: dedupe(leftover)}
	}

	return out, nil
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
