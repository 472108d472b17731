// Package output formats command results as human-readable tables.
package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jbweber/crucible/internal/template"
	"github.com/jbweber/crucible/internal/vm"
)

// FormatTemplateList formats the template catalog as a table.
func FormatTemplateList(entries []template.Entry) string {
	if len(entries) == 0 {
		return "No templates found\n"
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "TEMPLATE\tINTROSPECTION PROFILE")
	for _, e := range entries {
		profile := "-"
		if e.HasProfile {
			profile = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", e.Key, profile)
	}

	_ = w.Flush()
	return buf.String()
}

// FormatTeardownReport formats a teardown report as a table, one row per
// step with what was found and how removal went.
func FormatTeardownReport(report *vm.Report) string {
	var buf bytes.Buffer
	if report.Record != nil {
		_, _ = fmt.Fprintf(&buf, "Provisioned from template: %s\n", report.Record.TemplateKey)
	}
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "STEP\tFOUND\tRESULT")
	for _, s := range report.Steps {
		found := "no"
		if s.Found {
			found = "yes"
		}
		result := "ok"
		if s.Err != nil {
			result = s.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Step, found, result)
	}

	_ = w.Flush()
	return buf.String()
}

// FormatInstance formats a freshly provisioned instance for the operator.
func FormatInstance(inst *vm.Instance) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Name:\t%s\n", inst.Name)
	_, _ = fmt.Fprintf(w, "Template:\t%s\n", inst.TemplateKey)
	_, _ = fmt.Fprintf(w, "State:\t%s\n", inst.State)
	_, _ = fmt.Fprintf(w, "UUID:\t%s\n", inst.Identity.UUID)
	_, _ = fmt.Fprintf(w, "MAC:\t%s\n", inst.Identity.MAC)
	_, _ = fmt.Fprintf(w, "Chassis serial:\t%s\n", inst.Identity.ChassisSerial)
	_, _ = fmt.Fprintf(w, "Disk serial:\t%s\n", inst.Identity.DiskSerial)
	_, _ = fmt.Fprintf(w, "Disk image:\t%s\n", inst.DiskPath)
	_, _ = fmt.Fprintf(w, "Definition:\t%s\n", inst.DefinitionPath)
	_, _ = fmt.Fprintf(w, "Firmware vars:\t%s\n", inst.NVRAMPath)
	if inst.ProfileLink != "" {
		_, _ = fmt.Fprintf(w, "Profile link:\t%s\n", inst.ProfileLink)
	}

	_ = w.Flush()
	return buf.String()
}
