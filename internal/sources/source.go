package sources

import (
	"context"
	"net/url"

	"dealscout/pkg/types"
)

// Source is a retail source adapter. Search runs one query against the
// source and returns normalised product records, at most limit of them.
// Implementations own their fetch discipline (compliance checks, pacing,
// escalation) and must honour ctx cancellation.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]types.ProductRecord, error)
}

// Describer is implemented by adapters that can report their wiring.
type Describer interface {
	Describe() Descriptor
}

// Descriptor summarises a registered source for listings.
type Descriptor struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url,omitempty"`
}

// ComplianceAgent decides whether a URL may be fetched at all.
type ComplianceAgent interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// IdentifierLookup resolves a namespaced source key to a canonical
// product identifier, if one is known.
type IdentifierLookup interface {
	Lookup(key string) (string, bool)
}
