// Package scan fans one search query across the registered sources,
// merges their records deterministically, and carries the result through
// the identifier cache, the margin filter, and the export sinks.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dealscout/internal/arbitrage"
	"dealscout/internal/config"
	"dealscout/internal/idcache"
	"dealscout/internal/sink"
	"dealscout/internal/sources"
	"dealscout/pkg/types"
)

// ErrAllSourcesFailed marks a pass in which not a single source produced
// a normal result. Partial failures never surface here; they are visible
// only in the report statuses.
var ErrAllSourcesFailed = errors.New("all sources failed")

// IdentifierStore is the durable key-to-identifier cache fed after the
// join point of every pass.
type IdentifierStore interface {
	Lookup(key string) (string, bool)
	RecordBatch(pairs []idcache.Pair) (int, error)
}

// Options wires an Engine. Registry is required; a nil store, filter, or
// sink disables that stage of the pass.
type Options struct {
	Registry    *sources.Registry
	Store       IdentifierStore
	Filter      *arbitrage.Filter
	Sinks       sink.Sink
	Scan        config.ScanConfig
	Destination string
	Logger      *slog.Logger
}

// Engine orchestrates scan passes.
type Engine struct {
	registry    *sources.Registry
	store       IdentifierStore
	filter      *arbitrage.Filter
	sinks       sink.Sink
	cfg         config.ScanConfig
	destination string
	logger      *slog.Logger
}

// New validates the wiring and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("scan engine requires a source registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	destination := strings.TrimSpace(opts.Destination)
	if destination == "" {
		destination = "scan_results"
	}
	return &Engine{
		registry:    opts.Registry,
		store:       opts.Store,
		filter:      opts.Filter,
		sinks:       opts.Sinks,
		cfg:         opts.Scan,
		destination: destination,
		logger:      logger,
	}, nil
}

type outcome struct {
	status  SourceStatus
	records []types.ProductRecord
}

type searchResult struct {
	records []types.ProductRecord
	err     error
}

// Run executes one pass. It returns after every selected source has
// completed, failed, or been abandoned at its timeout; the report is
// also returned alongside ErrAllSourcesFailed so callers can still show
// the per-source breakdown.
func (e *Engine) Run(ctx context.Context, req types.ScanRequest) (*Report, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New("scan requires a query")
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}

	selected, err := e.registry.Resolve(req.Sources)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, errors.New("no sources registered")
	}

	if d := e.cfg.Deadline.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	e.logger.Info("scan started",
		"query", query,
		"sources", len(selected),
		"limit", limit,
	)

	outcomes := make([]outcome, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	parallel := min(len(selected), e.cfg.MaxParallel)
	if parallel < 1 {
		parallel = 1
	}
	g.SetLimit(parallel)
	for i, src := range selected {
		g.Go(func() error {
			// Failures stay in the slot so one source can never cancel
			// its siblings.
			outcomes[i] = e.runSource(gctx, src, query, limit)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Query:    query,
		Records:  []types.ProductRecord{},
		Statuses: make([]SourceStatus, len(outcomes)),
		Skipped:  e.registry.Skipped(),
	}
	for i, out := range outcomes {
		report.Statuses[i] = out.status
		report.Records = append(report.Records, out.records...)
	}

	if report.Succeeded() == 0 {
		report.Elapsed = config.DurationFrom(time.Since(started))
		return report, ErrAllSourcesFailed
	}

	// Post-join stages run even when the scan deadline has expired; the
	// deadline bounds the fan-out, not local bookkeeping.
	postCtx := ctx
	if postCtx.Err() != nil {
		postCtx = context.Background()
	}

	report.NewIdentifiers = e.recordIdentifiers(report.Records)
	e.applyFilter(postCtx, report)
	e.export(postCtx, report.Candidates)

	report.Elapsed = config.DurationFrom(time.Since(started))
	e.logger.Info("scan finished",
		"query", query,
		"records", len(report.Records),
		"candidates", len(report.Candidates),
		"ok_sources", report.Succeeded(),
		"elapsed", report.Elapsed.Duration,
	)
	return report, nil
}

// runSource executes one Search under the per-source timeout. The search
// runs in its own goroutine so a panic or an overrun is contained; a
// result arriving after abandonment lands in the buffered channel and is
// discarded with it.
func (e *Engine) runSource(ctx context.Context, src sources.Source, query string, limit int) outcome {
	started := time.Now()
	name := src.Name()

	sctx := ctx
	cancel := context.CancelFunc(func() {})
	if d := e.cfg.SourceTimeout.Duration; d > 0 {
		sctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	resCh := make(chan searchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- searchResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		records, err := src.Search(sctx, query, limit)
		resCh <- searchResult{records: records, err: err}
	}()

	var res searchResult
	select {
	case res = <-resCh:
	case <-sctx.Done():
		res = searchResult{err: sctx.Err()}
	}
	return e.classify(name, res, time.Since(started))
}

func (e *Engine) classify(name string, res searchResult, elapsed time.Duration) outcome {
	status := SourceStatus{
		Name:    name,
		Elapsed: config.DurationFrom(elapsed),
	}
	if res.err == nil {
		status.State = StateOK
		status.Records = len(res.records)
		return outcome{status: status, records: res.records}
	}

	switch {
	case errors.Is(res.err, sources.ErrComplianceDenied):
		status.State = StateDenied
	case errors.Is(res.err, context.DeadlineExceeded):
		status.State = StateTimeout
	default:
		status.State = StateError
	}
	status.Error = res.err.Error()
	e.logger.Warn("source failed",
		"source", name,
		"state", string(status.State),
		"elapsed", elapsed,
		"error", res.err,
	)
	return outcome{status: status}
}

// recordIdentifiers persists every record that carries both a source key
// and an identifier. Cache failures are logged, never fatal.
func (e *Engine) recordIdentifiers(records []types.ProductRecord) int {
	if e.store == nil {
		return 0
	}
	var pairs []idcache.Pair
	for _, rec := range records {
		if rec.Identifier == "" || rec.SourceKey == "" {
			continue
		}
		pairs = append(pairs, idcache.Pair{
			Key:        sources.CacheKey(rec.Source, rec.SourceKey),
			Identifier: rec.Identifier,
		})
	}
	if len(pairs) == 0 {
		return 0
	}
	added, err := e.store.RecordBatch(pairs)
	if err != nil {
		e.logger.Warn("recording identifiers failed", "pairs", len(pairs), "error", err)
		return 0
	}
	return added
}

func (e *Engine) applyFilter(ctx context.Context, report *Report) {
	if e.filter == nil {
		return
	}
	result, err := e.filter.Apply(ctx, report.Records, e.resolveIdentifier)
	if err != nil {
		e.logger.Warn("margin filter interrupted", "error", err)
	}
	report.Candidates = result.Candidates
	report.Unmatched = result.Unmatched
}

// resolveIdentifier consults the durable cache for records whose listing
// did not expose an identifier directly.
func (e *Engine) resolveIdentifier(rec types.ProductRecord) string {
	if e.store == nil || rec.SourceKey == "" {
		return ""
	}
	if id, ok := e.store.Lookup(sources.CacheKey(rec.Source, rec.SourceKey)); ok {
		return id
	}
	return ""
}

// export feeds the sinks, retrying the whole batch exactly once.
func (e *Engine) export(ctx context.Context, candidates []arbitrage.Candidate) {
	if e.sinks == nil || len(candidates) == 0 {
		return
	}
	rows := make([]sink.Row, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, sink.Row{
			Source:         c.Record.Source,
			Title:          c.Record.Title,
			Identifier:     c.Identifier,
			Price:          c.SourcePrice,
			ReferencePrice: c.ReferencePrice,
			Margin:         c.Margin,
			URL:            c.Record.URL,
		})
	}
	if err := e.sinks.Append(ctx, e.destination, rows); err != nil {
		e.logger.Warn("export failed, retrying", "destination", e.destination, "error", err)
		if err := e.sinks.Append(ctx, e.destination, rows); err != nil {
			e.logger.Error("export failed after retry", "destination", e.destination, "error", err)
		}
	}
}
