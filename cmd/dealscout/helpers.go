package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dealscout/internal/arbitrage"
	"dealscout/internal/config"
	"dealscout/internal/idcache"
	"dealscout/internal/logging"
	"dealscout/internal/pricing"
	"dealscout/internal/scan"
	"dealscout/internal/sink"
	"dealscout/internal/sources"
)

// app holds the wired components behind every command.
type app struct {
	cfg      *config.Config
	registry *sources.Registry
	cache    *idcache.Cache
	engine   *scan.Engine
	sinks    *sink.Multi
}

// buildApp loads configuration, initialises logging, and wires the scan
// engine. Callers must Close the returned app.
func buildApp() (*app, error) {
	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return nil, err
	}
	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		cfg.Logging.Format = rootFlags.logFormat
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Logging.Format)

	cache, err := idcache.Open(cfg.Cache.Path, logging.New("idcache"))
	if err != nil {
		return nil, fmt.Errorf("open identifier cache: %w", err)
	}
	registry, err := sources.Build(cfg, cache, logging.New("sources"))
	if err != nil {
		return nil, fmt.Errorf("build source registry: %w", err)
	}
	prices, err := pricing.FromConfig(cfg.Reference, logging.New("pricing"))
	if err != nil {
		return nil, fmt.Errorf("reference prices: %w", err)
	}
	filter := arbitrage.New(prices, arbitrage.Config{
		Threshold:  cfg.Arbitrage.MarginThreshold,
		PriceFloor: cfg.Arbitrage.PriceFloor,
	}, logging.New("arbitrage"))
	sinks, err := sink.FromConfig(cfg.Sinks, logging.New("sink"))
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	engine, err := scan.New(scan.Options{
		Registry:    registry,
		Store:       cache,
		Filter:      filter,
		Sinks:       sinks,
		Scan:        cfg.Scan,
		Destination: cfg.Sinks.Destination,
		Logger:      logging.New("scan"),
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		engine:   engine,
		sinks:    sinks,
	}, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if err := a.sinks.Close(); err != nil {
		logging.New("sink").Warn("closing sinks", "error", err)
	}
}

func printStatuses(w io.Writer, report *scan.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATE\tRECORDS\tELAPSED\tERROR")
	for _, s := range report.Statuses {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.Name, s.State, s.Records, s.Elapsed.Duration.Round(time.Millisecond), s.Error)
	}
	tw.Flush()
}

func printCandidates(w io.Writer, report *scan.Report) {
	if len(report.Candidates) == 0 {
		fmt.Fprintln(w, "No qualifying candidates.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MARGIN\tPRICE\tREFERENCE\tIDENTIFIER\tSOURCE\tTITLE")
	for _, c := range report.Candidates {
		fmt.Fprintf(tw, "%.1f%%\t%.2f\t%.2f\t%s\t%s\t%s\n",
			c.Margin*100, c.SourcePrice, c.ReferencePrice, c.Identifier, c.Record.Source, c.Record.Title)
	}
	tw.Flush()
}
