// Package views renders the HTML status page.
package views

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// GroupInfo is one entity group on the status page.
type GroupInfo struct {
	Name    string
	Schemas []core.EntitySchema
}

// StatusData is everything the status page shows.
type StatusData struct {
	Projects   []core.Project
	Groups     []GroupInfo
	Schedule   core.ScheduleStatus
	LastReport *core.BatchReport
	Runs       core.RunLimiterStatus
}

// StatusPage renders the recorder status: schedule, last run, projects and
// tracked entity types.
func StatusPage(data StatusData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Flight Recorder</title>`)
		p.raw(`<style>body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}` +
			`table{border-collapse:collapse;margin-bottom:1.5rem}td,th{border:1px solid #d1d5db;padding:.3rem .6rem;text-align:left}` +
			`.ok{color:#15803d}.fail{color:#b91c1c}.muted{color:#6b7280}</style></head><body>`)
		p.raw(`<h1>Flight Recorder</h1>`)

		scheduleSection(p, data.Schedule)
		runsSection(p, data.LastReport, data.Runs)
		projectsSection(p, data.Projects)
		entitySection(p, data.Groups)

		p.raw(`</body></html>`)
		return p.err
	})
}

func scheduleSection(p *printer, s core.ScheduleStatus) {
	p.raw(`<h2>Schedule</h2>`)
	if !s.Enabled {
		p.raw(`<p class="muted">Daily sync is disabled.</p>`)
		return
	}
	p.raw(`<table>`)
	p.row("Time", fmt.Sprintf("%02d:%02d %s", s.Hour, s.Minute, s.Timezone))
	p.row("Next run", formatTime(s.NextRun))
	p.row("Last run", formatTime(s.LastRun))
	if s.LastRunID != "" {
		p.row("Last run id", s.LastRunID)
	}
	p.raw(`</table>`)
}

func runsSection(p *printer, r *core.BatchReport, runs core.RunLimiterStatus) {
	p.raw(`<h2>Runs</h2>`)
	p.raw(`<p>`)
	p.text(fmt.Sprintf("%d of %d run slots in use.", runs.Active, runs.MaxConcurrent))
	p.raw(`</p>`)
	if r == nil {
		p.raw(`<p class="muted">No batch run since startup.</p>`)
		return
	}

	p.raw(`<table>`)
	p.row("Run id", r.RunID)
	p.row("Trigger", r.Trigger)
	p.row("Dates", r.StartDate+" to "+r.EndDate)
	p.row("Units", fmt.Sprintf("%d (%d succeeded, %d skipped, %d failed)", r.Units, r.Succeeded, r.Skipped, r.Failed))
	p.row("Diffs", fmt.Sprintf("%d", r.TotalDiffs))
	p.row("Finished", formatTime(r.FinishedAt))
	p.raw(`</table>`)

	if r.Failed == 0 {
		return
	}
	keys := make([]string, 0, r.Failed)
	for key, res := range r.Results {
		if !res.Succeeded() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	p.raw(`<h3 class="fail">Failed units</h3><table><tr><th>Unit</th><th>Kind</th><th>Detail</th></tr>`)
	for _, key := range keys {
		res := r.Results[key]
		p.raw(`<tr><td>`)
		p.text(key)
		p.raw(`</td><td>`)
		p.text(string(res.Kind))
		p.raw(`</td><td>`)
		p.text(res.Detail)
		p.raw(`</td></tr>`)
	}
	p.raw(`</table>`)
}

func projectsSection(p *printer, projects []core.Project) {
	p.raw(`<h2>Projects</h2>`)
	if len(projects) == 0 {
		p.raw(`<p class="fail">No projects configured.</p>`)
		return
	}
	p.raw(`<table><tr><th>Project</th><th>Customer</th><th>Entity types</th></tr>`)
	for _, proj := range projects {
		types := "all"
		if len(proj.EntityTypes) > 0 {
			types = strings.Join(proj.EntityTypes, ", ")
		}
		p.raw(`<tr><td>`)
		p.text(proj.Name)
		p.raw(`</td><td>`)
		p.text(proj.CustomerID)
		p.raw(`</td><td>`)
		p.text(types)
		p.raw(`</td></tr>`)
	}
	p.raw(`</table>`)
}

func entitySection(p *printer, groups []GroupInfo) {
	p.raw(`<h2>Entity types</h2>`)
	for _, g := range groups {
		p.raw(`<h3>`)
		p.text(g.Name)
		p.raw(`</h3><table><tr><th>Entity type</th><th>Key</th><th>Fields</th></tr>`)
		for _, s := range g.Schemas {
			p.raw(`<tr><td>`)
			p.text(s.EntityType)
			p.raw(`</td><td>`)
			p.text(strings.Join(s.KeyFields, ", "))
			p.raw(`</td><td>`)
			p.text(fmt.Sprintf("%d", len(s.Fields)))
			p.raw(`</td></tr>`)
		}
		p.raw(`</table>`)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04 MST")
}

// printer writes markup, keeping the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *printer) row(label, value string) {
	p.raw(`<tr><th>`)
	p.text(label)
	p.raw(`</th><td>`)
	p.text(value)
	p.raw(`</td></tr>`)
}
