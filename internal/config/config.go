package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Done ratio modes.
const (
	DoneRatioField  = "field"
	DoneRatioStatus = "status"
)

// WildcardTracker matches any tracker in the workflow table.
const WildcardTracker = "*"

// Config models voteline.yml.
type Config struct {
	Settings struct {
		DoneRatio             string `yaml:"done_ratio" json:"done_ratio"`
		CrossProjectRelations bool   `yaml:"cross_project_relations" json:"cross_project_relations"`
	} `yaml:"settings" json:"settings"`
	Statuses     []Status `yaml:"statuses" json:"statuses"`
	VoteStatuses struct {
		New      string `yaml:"new" json:"new"`
		Estimate string `yaml:"estimate" json:"estimate"`
		Open     string `yaml:"open" json:"open"`
		Accepted string `yaml:"accepted" json:"accepted"`
	} `yaml:"vote_statuses" json:"vote_statuses"`
	Trackers     []Tracker     `yaml:"trackers" json:"trackers"`
	CustomFields []CustomField `yaml:"custom_fields" json:"custom_fields"`
	Roles        struct {
		Core    string          `yaml:"core" json:"core"`
		Catalog map[string]Role `yaml:"catalog" json:"catalog"`
	} `yaml:"roles" json:"roles"`
	// Workflow maps tracker -> role -> current status -> permitted next statuses.
	Workflow map[string]map[string]map[string][]string `yaml:"workflow" json:"workflow"`
}

type Status struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	Closed           bool   `yaml:"closed" json:"closed"`
	Default          bool   `yaml:"default" json:"default"`
	DefaultDoneRatio *int   `yaml:"default_done_ratio" json:"default_done_ratio,omitempty"`
	Position         int    `yaml:"position" json:"position"`
}

type Tracker struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// CustomField applies to the listed trackers; an empty Projects list means every project.
type CustomField struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Trackers []string `yaml:"trackers" json:"trackers"`
	Projects []string `yaml:"projects" json:"projects,omitempty"`
}

// Role permissions name engine actions; "*" grants every action.
type Role struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions,omitempty"`
}

// Permissions checked by the engine.
const (
	PermAddIssues       = "add_issues"
	PermEditIssues      = "edit_issues"
	PermDeleteIssues    = "delete_issues"
	PermMoveIssues      = "move_issues"
	PermVote            = "vote"
	PermManageRelations = "manage_relations"
	PermManageVersions  = "manage_versions"
	PermManageProjects  = "manage_projects"
	PermManageMembers   = "manage_members"
	PermAttach          = "attach_files"
	PermLogTime         = "log_time"
	PermPushCommitment  = "push_commitment"
	PermAll             = "*"
)

// RoleAllows reports whether any of the roles grants perm. Without a role
// catalog every role is allowed everything.
func (c *Config) RoleAllows(roles []string, perm string) bool {
	if len(c.Roles.Catalog) == 0 {
		return len(roles) > 0
	}
	for _, r := range roles {
		role, ok := c.Roles.Catalog[r]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p == perm || p == PermAll {
				return true
			}
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with vl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Settings.DoneRatio {
	case DoneRatioField, DoneRatioStatus:
	default:
		return fmt.Errorf("config.settings.done_ratio must be %q or %q", DoneRatioField, DoneRatioStatus)
	}
	if len(c.Statuses) == 0 {
		return fmt.Errorf("config.statuses is required")
	}
	seen := map[string]bool{}
	defaults := 0
	for _, s := range c.Statuses {
		if s.ID == "" {
			return fmt.Errorf("config.statuses contains empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("status %s defined twice", s.ID)
		}
		seen[s.ID] = true
		if s.Default {
			defaults++
		}
		if s.DefaultDoneRatio != nil && (*s.DefaultDoneRatio < 0 || *s.DefaultDoneRatio > 100) {
			return fmt.Errorf("status %s default_done_ratio must be between 0 and 100", s.ID)
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one status must be marked default (got %d)", defaults)
	}
	for name, id := range map[string]string{
		"new":      c.VoteStatuses.New,
		"estimate": c.VoteStatuses.Estimate,
		"open":     c.VoteStatuses.Open,
		"accepted": c.VoteStatuses.Accepted,
	} {
		if id == "" {
			return fmt.Errorf("config.vote_statuses.%s is required", name)
		}
		if !seen[id] {
			return fmt.Errorf("vote status %s references unknown status %s", name, id)
		}
	}
	if len(c.Trackers) == 0 {
		return fmt.Errorf("config.trackers is required")
	}
	trackers := map[string]bool{}
	for _, t := range c.Trackers {
		if t.ID == "" {
			return fmt.Errorf("config.trackers contains empty id")
		}
		trackers[t.ID] = true
	}
	for _, cf := range c.CustomFields {
		if cf.ID == "" {
			return fmt.Errorf("config.custom_fields contains empty id")
		}
		for _, t := range cf.Trackers {
			if !trackers[t] {
				return fmt.Errorf("custom field %s references unknown tracker %s", cf.ID, t)
			}
		}
	}
	if c.Roles.Core == "" {
		return fmt.Errorf("config.roles.core is required")
	}
	if len(c.Roles.Catalog) > 0 {
		if _, ok := c.Roles.Catalog[c.Roles.Core]; !ok {
			return fmt.Errorf("config.roles.core references unknown role %s", c.Roles.Core)
		}
	}
	for tracker, byRole := range c.Workflow {
		if tracker != WildcardTracker && !trackers[tracker] {
			return fmt.Errorf("workflow references unknown tracker %s", tracker)
		}
		for role, byStatus := range byRole {
			if len(c.Roles.Catalog) > 0 {
				if _, ok := c.Roles.Catalog[role]; !ok {
					return fmt.Errorf("workflow for tracker %s references unknown role %s", tracker, role)
				}
			}
			for from, targets := range byStatus {
				if !seen[from] {
					return fmt.Errorf("workflow %s/%s references unknown status %s", tracker, role, from)
				}
				for _, to := range targets {
					if !seen[to] {
						return fmt.Errorf("workflow %s/%s/%s references unknown status %s", tracker, role, from, to)
					}
				}
			}
		}
	}
	return nil
}

// Status looks up a status by id.
func (c *Config) Status(id string) (Status, bool) {
	for _, s := range c.Statuses {
		if s.ID == id {
			return s, true
		}
	}
	return Status{}, false
}

// StatusClosed reports whether the status is flagged closed. Unknown statuses are open.
func (c *Config) StatusClosed(id string) bool {
	s, ok := c.Status(id)
	return ok && s.Closed
}

// DefaultStatus returns the status new issues start in.
func (c *Config) DefaultStatus() Status {
	for _, s := range c.Statuses {
		if s.Default {
			return s
		}
	}
	return c.Statuses[0]
}

// SortedStatuses returns the catalog ordered by position then id.
func (c *Config) SortedStatuses() []Status {
	out := append([]Status(nil), c.Statuses...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Config) UseStatusForDoneRatio() bool {
	return c.Settings.DoneRatio == DoneRatioStatus
}

func (c *Config) HasTracker(id string) bool {
	for _, t := range c.Trackers {
		if t.ID == id {
			return true
		}
	}
	return false
}

// CustomFieldsFor returns the fields applicable to a project and tracker pair.
func (c *Config) CustomFieldsFor(projectID, trackerID string) []CustomField {
	if projectID == "" || trackerID == "" {
		return nil
	}
	var out []CustomField
	for _, cf := range c.CustomFields {
		if !contains(cf.Trackers, trackerID) {
			continue
		}
		if len(cf.Projects) > 0 && !contains(cf.Projects, projectID) {
			continue
		}
		out = append(out, cf)
	}
	return out
}

// Transitions returns the statuses a role may move to from the given status.
func (c *Config) Transitions(trackerID, role, from string) []string {
	var out []string
	for _, key := range []string{trackerID, WildcardTracker} {
		if byRole, ok := c.Workflow[key]; ok {
			out = append(out, byRole[role][from]...)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "voteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `settings:
  done_ratio: field
  cross_project_relations: false

statuses:
  - {id: new, name: New, default: true, position: 1, default_done_ratio: 0}
  - {id: estimate, name: Estimate, position: 2, default_done_ratio: 0}
  - {id: open, name: Open, position: 3, default_done_ratio: 10}
  - {id: accepted, name: Accepted, position: 4, default_done_ratio: 30}
  - {id: done, name: Done, closed: true, position: 5, default_done_ratio: 100}
  - {id: canceled, name: Canceled, closed: true, position: 6}

vote_statuses:
  new: new
  estimate: estimate
  open: open
  accepted: accepted

trackers:
  - {id: feature, name: Feature}
  - {id: bug, name: Bug}
  - {id: chore, name: Chore}

custom_fields:
  - {id: component, name: Component, trackers: [feature, bug, chore]}
  - {id: severity, name: Severity, trackers: [bug]}

roles:
  core: core
  catalog:
    core:
      description: "Core member; counts toward majority thresholds"
      permissions: ["*"]
    contributor:
      description: "Contributor; may deliver work"
      permissions: [add_issues, edit_issues, vote, manage_relations, attach_files, log_time, push_commitment]
    member:
      description: "Member; may vote and comment"
      permissions: [add_issues, edit_issues, vote, attach_files]

workflow:
  "*":
    core:
      new: [estimate, open, canceled]
      estimate: [new, open, canceled]
      open: [accepted, done, canceled]
      accepted: [open, done, canceled]
      done: [open]
      canceled: [new]
    contributor:
      open: [done]
      accepted: [done]
    member:
      new: [canceled]
`
