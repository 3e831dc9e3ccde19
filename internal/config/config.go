package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the scan engine.
type Config struct {
	Scan      ScanConfig      `yaml:"scan"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Rendering RenderingConfig `yaml:"rendering"`
	Robots    RobotsConfig    `yaml:"robots"`
	Cache     CacheConfig     `yaml:"cache"`
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	Reference ReferenceConfig `yaml:"reference"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Sources   []SourceConfig  `yaml:"sources"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ScanConfig controls the fan-out: pool cap, per-source timeout, and the
// overall deadline for one orchestration pass.
type ScanConfig struct {
	MaxParallel   int      `yaml:"max_parallel"`
	SourceTimeout Duration `yaml:"source_timeout"`
	Deadline      Duration `yaml:"deadline"`
	MaxResults    int      `yaml:"max_results"`
}

// FetchConfig controls direct HTTP fetching behaviour shared by all sources.
type FetchConfig struct {
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	Timeout          Duration          `yaml:"timeout"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	ProxyURL         string            `yaml:"proxy_url"`
	EscalateStatuses []int             `yaml:"escalate_statuses"`
}

// RenderingConfig controls the browser-rendered escalation tier.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// RobotsConfig configures crawl-policy handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// CacheConfig locates the durable identifier cache file.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// ArbitrageConfig holds the qualification inputs for the margin filter.
type ArbitrageConfig struct {
	MarginThreshold float64 `yaml:"margin_threshold"`
	PriceFloor      float64 `yaml:"price_floor"`
}

// ReferenceConfig selects the reference-price lookup backing the filter.
// Kind is "static" (CSV table), "http" (catalog API), or "none".
type ReferenceConfig struct {
	Kind    string   `yaml:"kind"`
	Path    string   `yaml:"path"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// SinksConfig enables the export sinks fed after each pass.
type SinksConfig struct {
	Destination string            `yaml:"destination"`
	CSV         CSVSinkConfig     `yaml:"csv"`
	DB          SQLConfig         `yaml:"db"`
	Webhook     WebhookSinkConfig `yaml:"webhook"`
}

// CSVSinkConfig appends qualifying candidates to per-destination CSV files.
type CSVSinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// SQLConfig describes a relational database connection used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// WebhookSinkConfig posts qualifying candidates to an external endpoint.
type WebhookSinkConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// SourceConfig declares one retail source. Kind is "html", "api", or
// "static"; the selector block only applies to html sources.
type SourceConfig struct {
	Name             string               `yaml:"name"`
	Kind             string               `yaml:"kind"`
	BaseURL          string               `yaml:"base_url"`
	SearchPath       string               `yaml:"search_path"`
	QueryParam       string               `yaml:"query_param"`
	PageParam        string               `yaml:"page_param"`
	LimitParam       string               `yaml:"limit_param"`
	PageSize         int                  `yaml:"page_size"`
	KeyAttr          string               `yaml:"key_attr"`
	DetailIdentifier bool                 `yaml:"detail_identifier"`
	Selectors        SelectorsConfig      `yaml:"selectors"`
	Headers          map[string]string    `yaml:"headers"`
	EscalateStatuses []int                `yaml:"escalate_statuses"`
	Seed             int64                `yaml:"seed"`
	Records          []StaticRecordConfig `yaml:"records"`
}

// SelectorsConfig drives extraction of product cards from a results page.
type SelectorsConfig struct {
	Card           string `yaml:"card"`
	Title          string `yaml:"title"`
	Price          string `yaml:"price"`
	Link           string `yaml:"link"`
	Image          string `yaml:"image"`
	Stock          string `yaml:"stock"`
	OutOfStockText string `yaml:"out_of_stock_text"`
}

// StaticRecordConfig seeds a static source with literal records.
type StaticRecordConfig struct {
	Title      string   `yaml:"title"`
	Price      *float64 `yaml:"price"`
	Identifier string   `yaml:"identifier"`
	Key        string   `yaml:"key"`
	URL        string   `yaml:"url"`
	ImageURL   string   `yaml:"image_url"`
	InStock    *bool    `yaml:"in_stock"`
}

// ServerConfig controls the HTTP surface exposed by the serve command.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Scan: ScanConfig{
			MaxParallel:   6,
			SourceTimeout: DurationFrom(20 * time.Second),
			Deadline:      DurationFrom(90 * time.Second),
			MaxResults:    10,
		},
		Fetch: FetchConfig{
			UserAgent:        "dealscout-bot/1.0",
			Headers:          map[string]string{},
			Timeout:          DurationFrom(12 * time.Second),
			MaxBodyBytes:     4 * 1024 * 1024,
			EscalateStatuses: []int{403, 429, 500, 503},
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(25 * time.Second),
			ConcurrentSessions: 2,
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "dealscout-bot/1.0",
			CacheTTL:  DurationFrom(1 * time.Hour),
		},
		Cache: CacheConfig{
			Path: "data/identifiers.csv",
		},
		Arbitrage: ArbitrageConfig{
			MarginThreshold: 0.3,
			PriceFloor:      1.0,
		},
		Reference: ReferenceConfig{
			Kind:    "static",
			Path:    "data/reference_prices.csv",
			Timeout: DurationFrom(10 * time.Second),
		},
		Sinks: SinksConfig{
			Destination: "scan_results",
			CSV: CSVSinkConfig{
				Enabled:   true,
				Directory: "data/exports",
			},
			DB: SQLConfig{
				AutoMigrate: true,
			},
			Webhook: WebhookSinkConfig{
				Timeout: DurationFrom(10 * time.Second),
			},
		},
		Server: ServerConfig{
			Addr:            ":8088",
			ShutdownTimeout: DurationFrom(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the engine configuration.
// Individual source definitions are deliberately not validated here: a
// bad definition is skipped with a warning at registry build time so the
// remaining sources still load.
func (c Config) Validate() error {
	if c.Scan.MaxParallel <= 0 {
		return fmt.Errorf("scan.max_parallel must be > 0 (got %d)", c.Scan.MaxParallel)
	}
	if c.Scan.MaxResults <= 0 {
		return fmt.Errorf("scan.max_results must be > 0 (got %d)", c.Scan.MaxResults)
	}
	if c.Scan.SourceTimeout.Duration < 0 {
		return errors.New("scan.source_timeout must not be negative")
	}
	if c.Scan.Deadline.Duration < 0 {
		return errors.New("scan.deadline must not be negative")
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	for _, status := range c.Fetch.EscalateStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("fetch.escalate_statuses contains invalid status %d", status)
		}
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if c.Arbitrage.PriceFloor < 0 {
		return fmt.Errorf("arbitrage.price_floor must be >= 0 (got %v)", c.Arbitrage.PriceFloor)
	}
	switch c.Reference.Kind {
	case "", "none", "static":
	case "http":
		if strings.TrimSpace(c.Reference.BaseURL) == "" {
			return errors.New("reference.base_url must be set when reference.kind is http")
		}
	default:
		return fmt.Errorf("unsupported reference.kind %q", c.Reference.Kind)
	}
	if c.Sinks.CSV.Enabled && strings.TrimSpace(c.Sinks.CSV.Directory) == "" {
		return errors.New("sinks.csv.directory must be set when sinks.csv.enabled is true")
	}
	if strings.TrimSpace(c.Sinks.Destination) == "" {
		return errors.New("sinks.destination must be set")
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Cache.Path = strings.TrimSpace(c.Cache.Path)
	c.Reference.Kind = strings.ToLower(strings.TrimSpace(c.Reference.Kind))
	c.Sinks.Destination = strings.TrimSpace(c.Sinks.Destination)
	c.Sinks.CSV.Directory = strings.TrimSpace(c.Sinks.CSV.Directory)

	for i := range c.Sources {
		c.Sources[i].Name = strings.TrimSpace(c.Sources[i].Name)
		c.Sources[i].Kind = strings.ToLower(strings.TrimSpace(c.Sources[i].Kind))
		c.Sources[i].BaseURL = strings.TrimSpace(c.Sources[i].BaseURL)
	}

	// Ensure overrides are de-duplicated and normalised to lower case.
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	if len(c.Fetch.EscalateStatuses) > 0 {
		c.Fetch.EscalateStatuses = dedupeStatuses(c.Fetch.EscalateStatuses)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

func dedupeStatuses(values []int) []int {
	unique := make(map[int]struct{}, len(values))
	cleaned := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Ints(cleaned)
	return cleaned
}
