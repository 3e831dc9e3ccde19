package sources

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"dealscout/internal/config"
	"dealscout/internal/fetcher"
	"dealscout/internal/robots"
)

// SkipReport records a source definition that could not be loaded.
type SkipReport struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Registry holds the loaded source adapters. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	sources map[string]Source
	skipped []SkipReport
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source, rejecting duplicates and unnamed adapters.
func (r *Registry) Register(src Source) error {
	if src == nil {
		return errors.New("source is nil")
	}
	name := src.Name()
	if name == "" {
		return errors.New("source has no name")
	}
	if _, ok := r.sources[name]; ok {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors lists registered sources with their wiring, sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.sources))
	for _, name := range r.Names() {
		if d, ok := r.sources[name].(Describer); ok {
			out = append(out, d.Describe())
			continue
		}
		out = append(out, Descriptor{Name: name})
	}
	return out
}

// Skipped lists definitions dropped during Build, with reasons.
func (r *Registry) Skipped() []SkipReport {
	out := make([]SkipReport, len(r.skipped))
	copy(out, r.skipped)
	return out
}

// Resolve maps requested names to adapters. An empty request selects
// every registered source in name order; otherwise request order is
// kept. Unknown names are collected and rejected wholesale so a typo
// cannot silently shrink a scan.
func (r *Registry) Resolve(names []string) ([]Source, error) {
	cleaned := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, name)
	}

	if len(cleaned) == 0 {
		all := make([]Source, 0, len(r.sources))
		for _, name := range r.Names() {
			all = append(all, r.sources[name])
		}
		return all, nil
	}

	selected := make([]Source, 0, len(cleaned))
	var unknown []string
	for _, name := range cleaned {
		src, ok := r.sources[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, src)
	}
	if len(unknown) > 0 {
		return nil, &UnknownSourceError{Names: unknown}
	}
	return selected, nil
}

// Build constructs a registry from configuration. A definition that
// cannot be loaded is skipped with a warning so one bad entry does not
// take down the remaining sources.
func Build(cfg *config.Config, cache IdentifierLookup, logger *slog.Logger) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	shared, err := fetcher.NewHTTPFetcher(fetchOptions(cfg.Fetch, nil))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	policy := robots.NewAgent(cfg.Robots, shared.Client())

	var renderer fetcher.Renderer
	if cfg.Rendering.Enabled {
		renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
			Timeout:            cfg.Rendering.Timeout.Duration,
			WaitForSelector:    cfg.Rendering.WaitForSelector,
			WaitForDOMReady:    cfg.Rendering.WaitForSelector == "",
			UserAgent:          cfg.Fetch.UserAgent,
			MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
			DisableHeadless:    cfg.Rendering.DisableHeadless,
			ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
		})
	}

	registry := NewRegistry()
	for i, def := range cfg.Sources {
		src, err := buildSource(cfg, def, shared, renderer, policy, cache, logger)
		if err == nil {
			err = registry.Register(src)
		}
		if err != nil {
			name := def.Name
			if name == "" {
				name = fmt.Sprintf("sources[%d]", i)
			}
			logger.Warn("skipping source definition", "source", name, "error", err)
			registry.skipped = append(registry.skipped, SkipReport{Name: name, Reason: err.Error()})
		}
	}
	return registry, nil
}

func buildSource(cfg *config.Config, def config.SourceConfig, shared *fetcher.HTTPFetcher, renderer fetcher.Renderer, policy ComplianceAgent, cache IdentifierLookup, logger *slog.Logger) (Source, error) {
	switch def.Kind {
	case "html":
		direct, err := sourceFetcher(cfg.Fetch, def, shared)
		if err != nil {
			return nil, err
		}
		statuses := def.EscalateStatuses
		if len(statuses) == 0 {
			statuses = cfg.Fetch.EscalateStatuses
		}
		esc := fetcher.NewEscalating(direct, renderer, statuses, logger)
		return NewHTMLAdapter(def, esc, policy, cache, logger)
	case "api":
		// API endpoints are fetched directly; rendering a JSON payload
		// in a browser buys nothing.
		direct, err := sourceFetcher(cfg.Fetch, def, shared)
		if err != nil {
			return nil, err
		}
		return NewAPIAdapter(def, direct, policy, cache, logger)
	case "static":
		return NewStaticAdapter(def)
	default:
		return nil, fmt.Errorf("unsupported source kind %q", def.Kind)
	}
}

// sourceFetcher returns the shared fetcher, or a dedicated one when the
// definition carries extra headers.
func sourceFetcher(fcfg config.FetchConfig, def config.SourceConfig, shared *fetcher.HTTPFetcher) (fetcher.Fetcher, error) {
	if len(def.Headers) == 0 {
		return shared, nil
	}
	return fetcher.NewHTTPFetcher(fetchOptions(fcfg, def.Headers))
}

func fetchOptions(fcfg config.FetchConfig, extra map[string]string) fetcher.Options {
	headers := make(map[string]string, len(fcfg.Headers)+len(extra))
	for k, v := range fcfg.Headers {
		headers[k] = v
	}
	for k, v := range extra {
		headers[k] = v
	}
	return fetcher.Options{
		UserAgent:    fcfg.UserAgent,
		Headers:      headers,
		Timeout:      fcfg.Timeout.Duration,
		MaxBodyBytes: fcfg.MaxBodyBytes,
		ProxyURL:     fcfg.ProxyURL,
	}
}
