package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

// projectsFile is the layout of PROJECTS_FILE:
//
//	projects:
//	  - name: acme
//	    customer_id: "123-456-7890"
//	    entity_types: [campaign_control_state, keyword]
type projectsFile struct {
	Projects []core.Project `yaml:"projects"`
}

// LoadProjects resolves the configured projects. Projects from the YAML file
// come first; PROJECTS entries add to them or override a file entry of the
// same name. Entries without a customer id fall back to
// GOOGLE_ADS_CUSTOMER_ID.
func (c *ProjectsConfig) LoadProjects() ([]core.Project, error) {
	var projects []core.Project
	index := make(map[string]int)

	add := func(p core.Project) error {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("project name is required")
		}
		if p.CustomerID == "" {
			p.CustomerID = c.DefaultCustomerID
		}
		p.CustomerID = core.NormalizeCustomerID(p.CustomerID)
		if p.CustomerID == "" {
			return fmt.Errorf("project %q has no customer id and GOOGLE_ADS_CUSTOMER_ID is not set", p.Name)
		}
		if i, ok := index[p.Name]; ok {
			projects[i] = p
			return nil
		}
		index[p.Name] = len(projects)
		projects = append(projects, p)
		return nil
	}

	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("read projects file: %w", err)
		}
		var f projectsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse projects file %s: %w", c.File, err)
		}
		for _, p := range f.Projects {
			if err := add(p); err != nil {
				return nil, fmt.Errorf("projects file %s: %w", c.File, err)
			}
		}
	}

	for _, entry := range c.List {
		name, id, _ := strings.Cut(entry, "=")
		if err := add(core.Project{Name: name, CustomerID: strings.TrimSpace(id)}); err != nil {
			return nil, fmt.Errorf("PROJECTS: %w", err)
		}
	}

	if len(projects) == 0 && c.DefaultCustomerID != "" {
		if err := add(core.Project{Name: "default"}); err != nil {
			return nil, err
		}
	}

	return projects, nil
}

// ServiceConfig builds the core service settings from the run, schedule and
// project sections.
func (c *Config) ServiceConfig() (core.ServiceConfig, error) {
	loc, err := c.Schedule.Location()
	if err != nil {
		return core.ServiceConfig{}, fmt.Errorf("schedule timezone: %w", err)
	}
	projects, err := c.Projects.LoadProjects()
	if err != nil {
		return core.ServiceConfig{}, err
	}
	return core.ServiceConfig{
		Workers:           c.Run.Workers,
		UnitTimeout:       c.Run.UnitTimeout,
		BatchTimeout:      c.Run.BatchTimeout,
		MaxConcurrentRuns: c.Run.MaxConcurrent,
		MaxWaitTime:       c.Run.MaxWaitTime,
		BatchDays:         c.Run.BatchDays,
		BatchDelay:        c.Run.BatchDelay,
		Location:          loc,
		Projects:          projects,
	}, nil
}

// ScheduleSettings returns the daily scheduler settings.
func (c *Config) ScheduleSettings() (core.ScheduleConfig, error) {
	loc, err := c.Schedule.Location()
	if err != nil {
		return core.ScheduleConfig{}, fmt.Errorf("schedule timezone: %w", err)
	}
	return core.ScheduleConfig{Hour: c.Schedule.Hour, Minute: c.Schedule.Minute, Location: loc}, nil
}
