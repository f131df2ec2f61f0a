package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateParsesAndValidates(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("myproject")))
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if len(cfg.Projects) != 1 || cfg.Projects[0] != "myproject" {
		t.Fatalf("Projects = %v", cfg.Projects)
	}
	if cfg.Scan.Interval.Duration != 60*time.Second {
		t.Fatalf("scan interval = %s", cfg.Scan.Interval.Duration)
	}
	if cfg.Scan.MaxConcurrentDispatches != 3 {
		t.Fatalf("max dispatches = %d", cfg.Scan.MaxConcurrentDispatches)
	}
	if !cfg.Automation.Research || !cfg.Automation.Acceptance {
		t.Fatalf("automation flags should default on: %+v", cfg.Automation)
	}
	if cfg.Triage.MinResearchedDescriptionLength != 200 {
		t.Fatalf("min length = %d", cfg.Triage.MinResearchedDescriptionLength)
	}
	if cfg.Triage.IceboxResearchDelay.Duration != time.Hour {
		t.Fatalf("icebox delay = %s", cfg.Triage.IceboxResearchDelay.Duration)
	}
	if cfg.Override.HoldTTL.Duration != 0 {
		t.Fatalf("hold ttl = %s, want zero (explicit RESUME only)", cfg.Override.HoldTTL.Duration)
	}
	if cfg.Touchpoints.ReviewRequestTimeout.Duration != 4*time.Hour {
		t.Fatalf("review timeout = %s", cfg.Touchpoints.ReviewRequestTimeout.Duration)
	}
	if cfg.Events.ReconcileInterval.Duration != 5*time.Minute || cfg.Events.DedupWindow.Duration != 5*time.Minute {
		t.Fatalf("events = %+v", cfg.Events)
	}
	if cfg.Dispatch.RetryMaxElapsed.Duration != 0 {
		t.Fatalf("retry = %s, want disabled by default", cfg.Dispatch.RetryMaxElapsed.Duration)
	}
	if cfg.Integration.TrackerCmd != "" || cfg.Integration.DispatchCmd != "" {
		t.Fatalf("integration should default empty: %+v", cfg.Integration)
	}
}

func TestDurationForms(t *testing.T) {
	cfg, err := FromYAML([]byte(strings.ReplaceAll(GenerateDefault("p"), "interval: 60s", "interval: 2m30s")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scan.Interval.Duration != 2*time.Minute+30*time.Second {
		t.Fatalf("interval = %s", cfg.Scan.Interval.Duration)
	}

	_, err = FromYAML([]byte(strings.ReplaceAll(GenerateDefault("p"), "interval: 60s", "interval: sixty")))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v, want invalid duration", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no projects", func(c *Config) { c.Projects = nil }, "projects"},
		{"empty project", func(c *Config) { c.Projects = []string{""} }, "projects[0]"},
		{"zero interval", func(c *Config) { c.Scan.Interval = D(0) }, "scan.interval"},
		{"zero budget", func(c *Config) { c.Scan.MaxConcurrentDispatches = 0 }, "max_concurrent_dispatches"},
		{"zero min length", func(c *Config) { c.Triage.MinResearchedDescriptionLength = 0 }, "min_researched_description_length"},
		{"no headers", func(c *Config) { c.Triage.StructuredHeaders = nil }, "structured_headers"},
		{"empty header", func(c *Config) { c.Triage.StructuredHeaders = []string{""} }, "structured_headers[0]"},
		{"negative icebox delay", func(c *Config) { c.Triage.IceboxResearchDelay = D(-time.Minute) }, "icebox_research_delay"},
		{"zero reconcile interval", func(c *Config) { c.Events.ReconcileInterval = D(0) }, "reconcile_interval"},
		{"negative dedup window", func(c *Config) { c.Events.DedupWindow = D(-time.Second) }, "dedup_window"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("p")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("want validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestValidateReconcileDisabledSkipsInterval(t *testing.T) {
	cfg := Default("p")
	cfg.Events.DisableReconcile = true
	cfg.Events.ReconcileInterval = D(0)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadMissingFileMentionsInit(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("err = %v, want pointer to config init", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidate.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("p")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Projects[0] != "p" {
		t.Fatalf("Projects = %v", cfg.Projects)
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "governor.yml"), []byte(GenerateDefault("p")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Projects[0] != "p" {
		t.Fatalf("Projects = %v", cfg.Projects)
	}
}
