// Package arbitrage scores scanned product records against reference
// prices and keeps the ones worth reselling.
package arbitrage

import (
	"context"
	"log/slog"
	"sort"

	"dealscout/pkg/types"
)

// PriceLookup resolves a product identifier to its reference price. The
// bool reports whether the catalog knows the identifier at all.
type PriceLookup interface {
	PriceFor(ctx context.Context, identifier string) (float64, bool, error)
}

// Resolver maps a record to its canonical identifier when the record
// itself does not carry one. An empty result leaves it unmatched.
type Resolver func(rec types.ProductRecord) string

// Config holds the qualification inputs for the margin filter.
type Config struct {
	// Threshold is the minimum margin, exclusive: a candidate must
	// beat it, not meet it.
	Threshold float64
	// PriceFloor excludes trinkets whose margin is noise, exclusive.
	PriceFloor float64
}

// Candidate is a record that cleared the filter.
type Candidate struct {
	Record         types.ProductRecord `json:"record"`
	Identifier     string              `json:"identifier"`
	SourcePrice    float64             `json:"source_price"`
	ReferencePrice float64             `json:"reference_price"`
	Margin         float64             `json:"margin"`
}

// Result splits scored records into qualifying candidates and records
// that could not be matched to a canonical identifier.
type Result struct {
	Candidates []Candidate           `json:"candidates"`
	Unmatched  []types.ProductRecord `json:"unmatched,omitempty"`
}

// Filter applies the margin computation over merged scan output.
type Filter struct {
	prices PriceLookup
	cfg    Config
	logger *slog.Logger
}

// New builds a filter. A nil lookup disables matching entirely; every
// identified record is then skipped for lack of a reference price.
func New(prices PriceLookup, cfg Config, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{prices: prices, cfg: cfg, logger: logger}
}

// Apply scores records one by one. Margin is (reference - source) /
// source. Records without a resolvable identifier land in Unmatched;
// records without a usable price, or whose identifier the catalog does
// not carry, are dropped. Candidates come back sorted by margin
// descending, cheaper source price first on ties.
func (f *Filter) Apply(ctx context.Context, records []types.ProductRecord, resolve Resolver) (Result, error) {
	var result Result

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		id := rec.Identifier
		if id == "" && resolve != nil {
			id = resolve(rec)
		}
		if id == "" {
			result.Unmatched = append(result.Unmatched, rec)
			continue
		}

		if rec.Price == nil || *rec.Price <= 0 {
			f.logger.Debug("skipping record without usable price", "source", rec.Source, "title", rec.Title)
			continue
		}
		src := *rec.Price

		if f.prices == nil {
			continue
		}
		ref, ok, err := f.prices.PriceFor(ctx, id)
		if err != nil {
			f.logger.Warn("reference price lookup failed", "identifier", id, "error", err)
			continue
		}
		if !ok || ref <= 0 {
			continue
		}

		margin := (ref - src) / src
		if margin <= f.cfg.Threshold || src <= f.cfg.PriceFloor {
			continue
		}

		result.Candidates = append(result.Candidates, Candidate{
			Record:         rec,
			Identifier:     id,
			SourcePrice:    src,
			ReferencePrice: ref,
			Margin:         margin,
		})
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Margin != b.Margin {
			return a.Margin > b.Margin
		}
		return a.SourcePrice < b.SourcePrice
	})

	return result, nil
}
