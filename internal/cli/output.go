package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// maxCellWidth truncates long values in table cells.
const maxCellWidth = 60

var (
	successPaint = color.New(color.FgGreen).SprintFunc()
	failurePaint = color.New(color.FgHiRed).SprintFunc()
	skippedPaint = color.New(color.FgYellow).SprintFunc()
)

// classPaint colors a change class.
func classPaint(c core.ChangeClass) string {
	switch c {
	case core.ChangeAdded:
		return color.New(color.FgHiGreen).Sprint(c)
	case core.ChangeRemoved:
		return color.New(color.FgHiRed).Sprint(c)
	default:
		return color.New(color.FgYellow).Sprint(c)
	}
}

// printReport writes a batch summary and one row per unit.
func printReport(w io.Writer, r *core.BatchReport) error {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s%s: %s to %s\n", r.RunID, mode, r.StartDate, r.EndDate)

	keys := make([]string, 0, len(r.Results))
	for key := range r.Results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Unit", "Status", "Diffs", "Duration", "Detail")
	for _, key := range keys {
		res := r.Results[key]
		status := successPaint("ok")
		switch {
		case !res.Succeeded():
			status = failurePaint(string(res.Kind))
		case res.Skipped:
			status = skippedPaint("skipped")
		}
		if err := table.Append([]string{
			key,
			status,
			fmt.Sprintf("%d", res.DiffCount),
			res.Duration.Round(time.Millisecond).String(),
			truncate(res.Detail),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	summary := fmt.Sprintf("%d units: %d succeeded (%d skipped), %d failed, %d diffs",
		r.Units, r.Succeeded, r.Skipped, r.Failed, r.TotalDiffs)
	if r.Failed > 0 {
		summary = failurePaint(summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// printDryRun writes the computed diffs of every unit in a dry-run report.
func printDryRun(w io.Writer, r *core.BatchReport) error {
	keys := make([]string, 0, len(r.Diffs))
	for key := range r.Diffs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := printDiffs(w, key, r.Diffs[key]); err != nil {
			return err
		}
	}
	return nil
}

// printDiffs writes the diffs of one unit.
func printDiffs(w io.Writer, unitKey string, diffs []core.DiffRecord) error {
	if len(diffs) == 0 {
		_, err := fmt.Fprintf(w, "%s: no changes\n", unitKey)
		return err
	}
	fmt.Fprintf(w, "%s: %d changes\n", unitKey, len(diffs))

	table := tablewriter.NewWriter(w)
	table.Header("Change", "Identity", "Field", "Old", "New")
	for _, d := range diffs {
		if err := table.Append([]string{
			classPaint(d.ChangeClass),
			d.Identity.String(),
			d.ChangedField,
			displayValue(d.OldValue.String, d.OldValue.Valid),
			displayValue(d.NewValue.String, d.NewValue.Valid),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// printSchemas writes one row per entity type.
func printSchemas(w io.Writer, schemas []core.EntitySchema) error {
	table := tablewriter.NewWriter(w)
	table.Header("Group", "Entity Type", "Key", "Fields")
	for _, s := range schemas {
		if err := table.Append([]string{
			s.Group,
			s.EntityType,
			strings.Join(s.KeyFields, ", "),
			fmt.Sprintf("%d", len(s.Fields)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// printSchemaFields writes one row per compared field.
func printSchemaFields(w io.Writer, schemas []core.EntitySchema) error {
	table := tablewriter.NewWriter(w)
	table.Header("Entity Type", "Field", "Kind", "Epsilon")
	for _, s := range schemas {
		for _, f := range s.Fields {
			eps := ""
			if f.Kind == core.Numeric {
				eps = fmt.Sprintf("%g", f.Epsilon)
			}
			if err := table.Append([]string{s.EntityType, f.Name, f.Kind.String(), eps}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

func displayValue(s string, valid bool) string {
	if !valid {
		return "-"
	}
	return truncate(s)
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-3]) + "..."
}
