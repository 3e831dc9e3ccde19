// Package pricing resolves product identifiers to the reference prices
// the arbitrage filter compares against.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dealscout/internal/config"
)

// ErrCatalogUnavailable marks a reference catalog that could not be
// reached after retries.
var ErrCatalogUnavailable = errors.New("reference catalog unavailable")

// Lookup resolves an identifier to its reference price. ok is false
// when the catalog has no entry for the identifier; err is reserved for
// catalog failures.
type Lookup interface {
	PriceFor(ctx context.Context, identifier string) (price float64, ok bool, err error)
}

// Disabled is a Lookup with no catalog behind it.
type Disabled struct{}

// PriceFor reports every identifier as unknown.
func (Disabled) PriceFor(context.Context, string) (float64, bool, error) {
	return 0, false, nil
}

// FromConfig builds the lookup selected by the reference section.
func FromConfig(cfg config.ReferenceConfig, logger *slog.Logger) (Lookup, error) {
	switch cfg.Kind {
	case "", "none":
		return Disabled{}, nil
	case "static":
		return LoadStaticTable(cfg.Path)
	case "http":
		return NewCached(NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout.Duration, logger)), nil
	default:
		return nil, fmt.Errorf("unsupported reference kind %q", cfg.Kind)
	}
}
