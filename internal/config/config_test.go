package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Scan.MaxParallel != 6 {
		t.Errorf("expected default max_parallel 6, got %d", cfg.Scan.MaxParallel)
	}
	if len(cfg.Fetch.EscalateStatuses) == 0 {
		t.Error("expected default escalate status set")
	}
}

func TestLoadFromReaderMergesDefaults(t *testing.T) {
	yamlDoc := `
scan:
  max_parallel: 3
  deadline: 30s
arbitrage:
  margin_threshold: 0.5
sources:
  - name: alpha
    kind: html
    base_url: https://alpha.example
    search_path: /search
    query_param: q
  - name: demo
    kind: static
`
	cfg, err := LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.MaxParallel != 3 {
		t.Errorf("expected overridden max_parallel 3, got %d", cfg.Scan.MaxParallel)
	}
	if cfg.Scan.Deadline.Duration != 30*time.Second {
		t.Errorf("expected 30s deadline, got %s", cfg.Scan.Deadline)
	}
	// untouched sections keep defaults
	if cfg.Scan.MaxResults != 10 {
		t.Errorf("expected default max_results 10, got %d", cfg.Scan.MaxResults)
	}
	if cfg.Arbitrage.MarginThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.Arbitrage.MarginThreshold)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].Name != "alpha" || cfg.Sources[0].Kind != "html" {
		t.Errorf("unexpected first source: %+v", cfg.Sources[0])
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("scanner:\n  max_parallel: 3\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero parallel", func(c *Config) { c.Scan.MaxParallel = 0 }},
		{"zero max results", func(c *Config) { c.Scan.MaxResults = 0 }},
		{"empty user agent", func(c *Config) { c.Fetch.UserAgent = " " }},
		{"bad escalate status", func(c *Config) { c.Fetch.EscalateStatuses = []int{999} }},
		{"empty robots agent", func(c *Config) { c.Robots.UserAgent = "" }},
		{"negative floor", func(c *Config) { c.Arbitrage.PriceFloor = -1 }},
		{"http reference without base url", func(c *Config) { c.Reference.Kind = "http"; c.Reference.BaseURL = "" }},
		{"unknown reference kind", func(c *Config) { c.Reference.Kind = "ledger" }},
		{"csv sink without directory", func(c *Config) { c.Sinks.CSV.Enabled = true; c.Sinks.CSV.Directory = "" }},
		{"empty destination", func(c *Config) { c.Sinks.Destination = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormaliseCleansInput(t *testing.T) {
	cfg := Default()
	cfg.Robots.Overrides = []string{" Alpha.Example ", "alpha.example", "", "beta.example"}
	cfg.Fetch.EscalateStatuses = []int{503, 403, 403}
	cfg.Sources = []SourceConfig{{Name: "  Alpha ", Kind: " HTML ", BaseURL: " https://alpha.example "}}
	cfg.normalise()

	if len(cfg.Robots.Overrides) != 2 {
		t.Fatalf("expected 2 overrides after dedupe, got %v", cfg.Robots.Overrides)
	}
	if cfg.Robots.Overrides[0] != "alpha.example" || cfg.Robots.Overrides[1] != "beta.example" {
		t.Errorf("unexpected overrides: %v", cfg.Robots.Overrides)
	}
	if len(cfg.Fetch.EscalateStatuses) != 2 {
		t.Errorf("expected deduped statuses, got %v", cfg.Fetch.EscalateStatuses)
	}
	if cfg.Sources[0].Name != "Alpha" || cfg.Sources[0].Kind != "html" {
		t.Errorf("source not normalised: %+v", cfg.Sources[0])
	}
}

func TestDurationYAMLForms(t *testing.T) {
	yamlDoc := `
scan:
  source_timeout: 5s
  deadline: 120
`
	cfg, err := LoadFromReader(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scan.SourceTimeout.Duration != 5*time.Second {
		t.Errorf("string duration: got %s", cfg.Scan.SourceTimeout)
	}
	if cfg.Scan.Deadline.Duration != 120*time.Second {
		t.Errorf("numeric duration should mean seconds: got %s", cfg.Scan.Deadline)
	}
}

func TestDurationOr(t *testing.T) {
	if got := DurationFrom(0).Or(7 * time.Second); got != 7*time.Second {
		t.Errorf("zero duration should fall back, got %s", got)
	}
	if got := DurationFrom(time.Minute).Or(7 * time.Second); got != time.Minute {
		t.Errorf("set duration should win, got %s", got)
	}
}
