package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dealscout/internal/arbitrage"
	"dealscout/internal/config"
	"dealscout/internal/idcache"
	"dealscout/internal/sink"
	"dealscout/internal/sources"
	"dealscout/pkg/types"
)

// gauge tracks how many searches overlap across a whole pass.
type gauge struct {
	running atomic.Int32
	peak    atomic.Int32
}

func (g *gauge) enter() {
	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) exit() { g.running.Add(-1) }

type fakeSource struct {
	name    string
	records []types.ProductRecord
	err     error
	delay   time.Duration
	panics  bool
	blocks  bool
	gauge   *gauge

	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(ctx context.Context, _ string, _ int) ([]types.ProductRecord, error) {
	f.calls.Add(1)
	if f.gauge != nil {
		f.gauge.enter()
		defer f.gauge.exit()
	}

	if f.panics {
		panic("selector exploded")
	}
	if f.blocks {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]string
	batches [][]idcache.Pair
	err     error
}

func newFakeStore(seed map[string]string) *fakeStore {
	entries := map[string]string{}
	for k, v := range seed {
		entries[k] = v
	}
	return &fakeStore{entries: entries}
}

func (s *fakeStore) Lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[key]
	return id, ok
}

func (s *fakeStore) RecordBatch(pairs []idcache.Pair) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, pairs)
	if s.err != nil {
		return 0, s.err
	}
	added := 0
	for _, p := range pairs {
		if _, ok := s.entries[p.Key]; ok {
			continue
		}
		s.entries[p.Key] = p.Identifier
		added++
	}
	return added, nil
}

type captureSink struct {
	mu           sync.Mutex
	destinations []string
	batches      [][]sink.Row
	failures     int
}

func (c *captureSink) Append(_ context.Context, destination string, rows []sink.Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destinations = append(c.destinations, destination)
	c.batches = append(c.batches, rows)
	if c.failures > 0 {
		c.failures--
		return errors.New("sink unavailable")
	}
	return nil
}

type priceTable map[string]float64

func (p priceTable) PriceFor(_ context.Context, identifier string) (float64, bool, error) {
	price, ok := p[identifier]
	return price, ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registryOf(t *testing.T, srcs ...sources.Source) *sources.Registry {
	t.Helper()
	reg := sources.NewRegistry()
	for _, src := range srcs {
		if err := reg.Register(src); err != nil {
			t.Fatalf("register %s: %v", src.Name(), err)
		}
	}
	return reg
}

func scanConfig() config.ScanConfig {
	return config.ScanConfig{
		MaxParallel:   4,
		SourceTimeout: config.DurationFrom(2 * time.Second),
		Deadline:      config.DurationFrom(10 * time.Second),
		MaxResults:    10,
	}
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Scan.MaxParallel == 0 {
		opts.Scan = scanConfig()
	}
	engine, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

func rec(source, title, key string, price float64) types.ProductRecord {
	return types.ProductRecord{Source: source, Title: title, SourceKey: key, Price: &price}
}

func TestRunMergesInSelectionOrder(t *testing.T) {
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{
		rec("alpha", "A0", "a0", 1), rec("alpha", "A1", "a1", 2),
	}}
	beta := &fakeSource{name: "beta", records: []types.ProductRecord{
		rec("beta", "B0", "b0", 3), rec("beta", "B1", "b1", 4),
	}}
	engine := newTestEngine(t, Options{Registry: registryOf(t, alpha, beta)})

	report, err := engine.Run(context.Background(), types.ScanRequest{
		Query:   "usb hub",
		Sources: []string{"beta", "alpha"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var titles []string
	for _, r := range report.Records {
		titles = append(titles, r.Title)
	}
	want := []string{"B0", "B1", "A0", "A1"}
	if len(titles) != len(want) {
		t.Fatalf("got %d records, want %d", len(titles), len(want))
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("record order %v, want %v", titles, want)
		}
	}
	if report.Statuses[0].Name != "beta" || report.Statuses[1].Name != "alpha" {
		t.Fatalf("statuses should follow selection order, got %+v", report.Statuses)
	}
	if report.Statuses[0].Records != 2 || report.Statuses[0].State != StateOK {
		t.Fatalf("unexpected beta status: %+v", report.Statuses[0])
	}
}

func TestRunDefaultsToAllSourcesSorted(t *testing.T) {
	zeta := &fakeSource{name: "zeta", records: []types.ProductRecord{rec("zeta", "Z", "z", 1)}}
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{rec("alpha", "A", "a", 1)}}
	engine := newTestEngine(t, Options{Registry: registryOf(t, zeta, alpha)})

	report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Records) != 2 || report.Records[0].Title != "A" || report.Records[1].Title != "Z" {
		t.Fatalf("expected sorted-name order, got %+v", report.Records)
	}
}

func TestRunIsolatesPanicsAndTimeouts(t *testing.T) {
	panicky := &fakeSource{name: "panicky", panics: true}
	stuck := &fakeSource{name: "stuck", blocks: true}
	healthy := &fakeSource{name: "healthy", records: []types.ProductRecord{
		rec("healthy", "Good", "g1", 9),
	}}
	cfg := scanConfig()
	cfg.SourceTimeout = config.DurationFrom(150 * time.Millisecond)
	engine := newTestEngine(t, Options{Registry: registryOf(t, panicky, stuck, healthy), Scan: cfg})

	started := time.Now()
	report, err := engine.Run(context.Background(), types.ScanRequest{
		Query:   "mouse",
		Sources: []string{"panicky", "stuck", "healthy"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("run took %v, stragglers were not abandoned", elapsed)
	}

	if len(report.Records) != 1 || report.Records[0].Title != "Good" {
		t.Fatalf("healthy records lost: %+v", report.Records)
	}
	states := map[string]SourceState{}
	for _, s := range report.Statuses {
		states[s.Name] = s.State
	}
	if states["panicky"] != StateError {
		t.Errorf("panicky state = %s, want error", states["panicky"])
	}
	if states["stuck"] != StateTimeout {
		t.Errorf("stuck state = %s, want timeout", states["stuck"])
	}
	if states["healthy"] != StateOK {
		t.Errorf("healthy state = %s, want ok", states["healthy"])
	}
}

func TestRunFailsOnlyWhenEverySourceFails(t *testing.T) {
	down := &fakeSource{name: "down", err: errors.New("connection refused")}
	denied := &fakeSource{name: "denied", err: sources.ErrComplianceDenied}
	engine := newTestEngine(t, Options{Registry: registryOf(t, down, denied)})

	report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
	if report == nil {
		t.Fatal("report must accompany ErrAllSourcesFailed")
	}
	if len(report.Records) != 0 || len(report.Statuses) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	states := map[string]SourceState{}
	for _, s := range report.Statuses {
		states[s.Name] = s.State
	}
	if states["denied"] != StateDenied || states["down"] != StateError {
		t.Fatalf("unexpected states: %v", states)
	}
}

func TestRunRejectsUnknownSourcesBeforeFetching(t *testing.T) {
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{rec("alpha", "A", "a", 1)}}
	engine := newTestEngine(t, Options{Registry: registryOf(t, alpha)})

	_, err := engine.Run(context.Background(), types.ScanRequest{
		Query:   "mouse",
		Sources: []string{"alpha", "ghost"},
	})
	var unknown *sources.UnknownSourceError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownSourceError", err)
	}
	if alpha.calls.Load() != 0 {
		t.Fatal("no source may run when resolution fails")
	}
}

func TestRunRequiresQuery(t *testing.T) {
	engine := newTestEngine(t, Options{Registry: sources.NewRegistry()})
	if _, err := engine.Run(context.Background(), types.ScanRequest{Query: "   "}); err == nil {
		t.Fatal("expected an error for a blank query")
	}
}

func TestRunObservesMaxParallel(t *testing.T) {
	shared := &gauge{}
	var srcs []sources.Source
	for _, name := range []string{"s1", "s2", "s3", "s4"} {
		srcs = append(srcs, &fakeSource{name: name, delay: 50 * time.Millisecond, gauge: shared})
	}
	cfg := scanConfig()
	cfg.MaxParallel = 1
	engine := newTestEngine(t, Options{Registry: registryOf(t, srcs...), Scan: cfg})

	if _, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if shared.peak.Load() > 1 {
		t.Fatalf("saw %d concurrent searches with max_parallel=1", shared.peak.Load())
	}
}

func TestRunDeadlineAbandonsStragglers(t *testing.T) {
	stuck := &fakeSource{name: "stuck", blocks: true}
	cfg := scanConfig()
	cfg.SourceTimeout = config.Duration{}
	cfg.Deadline = config.DurationFrom(150 * time.Millisecond)
	engine := newTestEngine(t, Options{Registry: registryOf(t, stuck), Scan: cfg})

	started := time.Now()
	report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("run took %v, deadline did not abandon the source", elapsed)
	}
	if report.Statuses[0].State != StateTimeout {
		t.Fatalf("state = %s, want timeout", report.Statuses[0].State)
	}
}

func TestRunRecordsFiltersAndExports(t *testing.T) {
	srcPrice := 30.0
	hubPrice := 10.0
	cablePrice := 5.0
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{
		{Source: "alpha", Title: "Wireless Mouse", SourceKey: "1", Identifier: "036000291452", Price: &srcPrice},
		{Source: "alpha", Title: "USB Hub", SourceKey: "2", Price: &hubPrice},
		{Source: "alpha", Title: "Spare Cable", Price: &cablePrice},
	}}
	beta := &fakeSource{name: "beta", err: sources.ErrComplianceDenied}

	store := newFakeStore(map[string]string{"alpha/2": "012345678905"})
	filter := arbitrage.New(
		priceTable{"036000291452": 50, "012345678905": 12},
		arbitrage.Config{Threshold: 0.3, PriceFloor: 1},
		discardLogger(),
	)
	out := &captureSink{}
	engine := newTestEngine(t, Options{
		Registry:    registryOf(t, alpha, beta),
		Store:       store,
		Filter:      filter,
		Sinks:       out,
		Destination: "deals",
	})

	report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Records) != 3 {
		t.Fatalf("got %d merged records, want 3", len(report.Records))
	}
	states := map[string]SourceState{}
	for _, s := range report.Statuses {
		states[s.Name] = s.State
	}
	if states["alpha"] != StateOK || states["beta"] != StateDenied {
		t.Fatalf("unexpected states: %v", states)
	}

	// Only the mouse clears the 30% margin bar: (50-30)/30 vs (12-10)/10.
	if len(report.Candidates) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(report.Candidates), report.Candidates)
	}
	c := report.Candidates[0]
	if c.Identifier != "036000291452" || c.Record.Title != "Wireless Mouse" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if c.Margin < 0.66 || c.Margin > 0.67 {
		t.Fatalf("margin = %v, want about 0.667", c.Margin)
	}
	if len(report.Unmatched) != 1 || report.Unmatched[0].Title != "Spare Cable" {
		t.Fatalf("unexpected unmatched set: %+v", report.Unmatched)
	}

	// The mouse pair is new; the hub key was already cached.
	if report.NewIdentifiers != 1 {
		t.Fatalf("NewIdentifiers = %d, want 1", report.NewIdentifiers)
	}
	if len(store.batches) != 1 || len(store.batches[0]) != 1 || store.batches[0][0].Key != "alpha/1" {
		t.Fatalf("unexpected cache batches: %+v", store.batches)
	}

	if len(out.batches) != 1 || out.destinations[0] != "deals" {
		t.Fatalf("sink got %d batches (destinations %v), want 1 to deals", len(out.batches), out.destinations)
	}
	if len(out.batches[0]) != 1 || out.batches[0][0].Identifier != "036000291452" {
		t.Fatalf("unexpected exported rows: %+v", out.batches[0])
	}
	if out.batches[0][0].ReferencePrice != 50 || out.batches[0][0].Price != 30 {
		t.Fatalf("unexpected exported prices: %+v", out.batches[0][0])
	}
}

func TestRunRetriesSinkExactlyOnce(t *testing.T) {
	price := 10.0
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{
		{Source: "alpha", Title: "Mouse", SourceKey: "1", Identifier: "036000291452", Price: &price},
	}}
	filter := arbitrage.New(
		priceTable{"036000291452": 20},
		arbitrage.Config{Threshold: 0.3, PriceFloor: 1},
		discardLogger(),
	)

	t.Run("second attempt succeeds", func(t *testing.T) {
		out := &captureSink{failures: 1}
		engine := newTestEngine(t, Options{
			Registry: registryOf(t, alpha),
			Filter:   filter,
			Sinks:    out,
		})
		if _, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(out.batches) != 2 {
			t.Fatalf("sink saw %d attempts, want 2", len(out.batches))
		}
	})

	t.Run("failure stays non-fatal", func(t *testing.T) {
		out := &captureSink{failures: 10}
		engine := newTestEngine(t, Options{
			Registry: registryOf(t, alpha),
			Filter:   filter,
			Sinks:    out,
		})
		report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
		if err != nil {
			t.Fatalf("sink failures must not fail the pass: %v", err)
		}
		if len(out.batches) != 2 {
			t.Fatalf("sink saw %d attempts, want exactly 2", len(out.batches))
		}
		if len(report.Candidates) != 1 {
			t.Fatal("candidates must survive a failed export")
		}
	})
}

func TestRunToleratesStoreFailure(t *testing.T) {
	price := 10.0
	alpha := &fakeSource{name: "alpha", records: []types.ProductRecord{
		{Source: "alpha", Title: "Mouse", SourceKey: "1", Identifier: "036000291452", Price: &price},
	}}
	store := newFakeStore(nil)
	store.err = errors.New("disk full")
	engine := newTestEngine(t, Options{Registry: registryOf(t, alpha), Store: store})

	report, err := engine.Run(context.Background(), types.ScanRequest{Query: "mouse"})
	if err != nil {
		t.Fatalf("cache failures must not fail the pass: %v", err)
	}
	if report.NewIdentifiers != 0 {
		t.Fatalf("NewIdentifiers = %d, want 0", report.NewIdentifiers)
	}
}
