package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models governor.yml.
type Config struct {
	Projects []string `yaml:"projects"`

	Scan struct {
		Interval                Duration `yaml:"interval"`
		MaxConcurrentDispatches int      `yaml:"max_concurrent_dispatches"`
	} `yaml:"scan"`

	Automation struct {
		Research        bool `yaml:"research"`
		BacklogCreation bool `yaml:"backlog_creation"`
		Development     bool `yaml:"development"`
		QA              bool `yaml:"qa"`
		Acceptance      bool `yaml:"acceptance"`
	} `yaml:"automation"`

	Triage struct {
		MinResearchedDescriptionLength int      `yaml:"min_researched_description_length"`
		StructuredHeaders              []string `yaml:"structured_headers"`
		ResearchRequestLabel           string   `yaml:"research_request_label"`
		IceboxResearchDelay            Duration `yaml:"icebox_research_delay"`
	} `yaml:"triage"`

	Override struct {
		// HoldTTL of zero means holds stay active until an explicit RESUME.
		HoldTTL Duration `yaml:"hold_ttl"`
	} `yaml:"override"`

	Touchpoints struct {
		ReviewRequestTimeout         Duration `yaml:"review_request_timeout"`
		DecompositionProposalTimeout Duration `yaml:"decomposition_proposal_timeout"`
	} `yaml:"touchpoints"`

	Events struct {
		ReconcileInterval Duration `yaml:"reconcile_interval"`
		DisableReconcile  bool     `yaml:"disable_reconcile"`
		DedupWindow       Duration `yaml:"dedup_window"`
	} `yaml:"events"`

	Dispatch struct {
		// RetryMaxElapsed of zero disables retry around dispatch calls.
		RetryMaxElapsed Duration `yaml:"retry_max_elapsed"`
	} `yaml:"dispatch"`

	// Integration points the core at external hook commands. Both speak JSON
	// on stdout; see internal/hook.
	Integration struct {
		TrackerCmd  string `yaml:"tracker_cmd"`
		DispatchCmd string `yaml:"dispatch_cmd"`
	} `yaml:"integration"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with govd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("config.projects must list at least one project")
	}
	for i, p := range c.Projects {
		if p == "" {
			return fmt.Errorf("config.projects[%d] is empty", i)
		}
	}
	if c.Scan.Interval.Duration <= 0 {
		return fmt.Errorf("config.scan.interval must be positive")
	}
	if c.Scan.MaxConcurrentDispatches <= 0 {
		return fmt.Errorf("config.scan.max_concurrent_dispatches must be positive")
	}
	if c.Triage.MinResearchedDescriptionLength <= 0 {
		return fmt.Errorf("config.triage.min_researched_description_length must be positive")
	}
	if len(c.Triage.StructuredHeaders) == 0 {
		return fmt.Errorf("config.triage.structured_headers must list at least one header")
	}
	for i, h := range c.Triage.StructuredHeaders {
		if h == "" {
			return fmt.Errorf("config.triage.structured_headers[%d] is empty", i)
		}
	}
	if c.Triage.IceboxResearchDelay.Duration < 0 {
		return fmt.Errorf("config.triage.icebox_research_delay must not be negative")
	}
	if !c.Events.DisableReconcile && c.Events.ReconcileInterval.Duration <= 0 {
		return fmt.Errorf("config.events.reconcile_interval must be positive unless reconcile is disabled")
	}
	if c.Events.DedupWindow.Duration < 0 {
		return fmt.Errorf("config.events.dedup_window must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "governor.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(project string) string {
	return fmt.Sprintf(defaultTemplate, project)
}

// Default returns the default Config struct for a project.
func Default(project string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, project)), &cfg)
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

const defaultTemplate = `projects:
  - %s

scan:
  interval: 60s
  max_concurrent_dispatches: 3

automation:
  research: true
  backlog_creation: true
  development: true
  qa: true
  acceptance: true

triage:
  min_researched_description_length: 200
  structured_headers:
    - "## Acceptance Criteria"
    - "## Technical Approach"
    - "## Requirements"
  research_request_label: needs-research
  icebox_research_delay: 1h

override:
  hold_ttl: 0s

touchpoints:
  review_request_timeout: 4h
  decomposition_proposal_timeout: 2h

events:
  reconcile_interval: 5m
  dedup_window: 5m

dispatch:
  retry_max_elapsed: 0s

integration:
  tracker_cmd: ""
  dispatch_cmd: ""
`
