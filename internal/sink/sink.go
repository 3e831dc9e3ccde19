// Package sink delivers qualifying arbitrage candidates to the configured
// export targets. Every sink is append-only: repeated scans accumulate
// history rather than replacing it.
package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"dealscout/internal/config"
)

// Row is one exported candidate, flattened for tabular targets.
type Row struct {
	Source         string  `json:"source"`
	Title          string  `json:"title"`
	Identifier     string  `json:"identifier"`
	Price          float64 `json:"price"`
	ReferencePrice float64 `json:"reference_price"`
	Margin         float64 `json:"margin"`
	URL            string  `json:"url,omitempty"`
}

// Sink receives the candidates of one scan pass. Destination names the
// logical export target (a file stem, a table partition key) and comes
// from configuration rather than user input.
type Sink interface {
	Append(ctx context.Context, destination string, rows []Row) error
}

// Multi fans rows out to every configured sink. A failing sink does not
// stop delivery to the others; the failures are joined afterwards.
type Multi struct {
	sinks []Sink
}

// NewMulti wraps the given sinks. Zero sinks is valid and discards rows.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Append delivers rows to each sink in order.
func (m *Multi) Append(ctx context.Context, destination string, rows []Row) error {
	if m == nil || len(rows) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, destination, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many sinks are active.
func (m *Multi) Len() int {
	if m == nil {
		return 0
	}
	return len(m.sinks)
}

// Close releases sinks holding external resources, such as database pools.
func (m *Multi) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		closer, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig assembles the enabled sinks into a fan-out. A configuration
// with nothing enabled yields an empty Multi that drops rows silently.
func FromConfig(cfg config.SinksConfig, logger *slog.Logger) (*Multi, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []Sink
	if cfg.CSV.Enabled {
		s, err := NewCSV(cfg.CSV.Directory, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		s, err := NewPostgres(cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if strings.TrimSpace(cfg.Webhook.URL) != "" {
		s, err := NewWebhook(cfg.Webhook, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return NewMulti(sinks...), nil
}
