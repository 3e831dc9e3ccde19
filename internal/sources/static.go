package sources

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"dealscout/internal/config"
	"dealscout/pkg/types"
)

// StaticAdapter serves records without network calls. With literal
// records configured it is a fixture source for demos and wiring tests;
// without them it synthesizes deterministic pseudo-random listings from
// the query and seed.
type StaticAdapter struct {
	name    string
	baseURL string
	seed    int64
	records []types.ProductRecord
}

// NewStaticAdapter builds an adapter from a source definition. Literal
// records missing a title are dropped.
func NewStaticAdapter(def config.SourceConfig) (*StaticAdapter, error) {
	if def.Name == "" {
		return nil, errors.New("source name is required")
	}

	base := strings.TrimSpace(def.BaseURL)
	if base == "" {
		base = "https://example-marketplace.invalid"
	}
	seed := def.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	records := make([]types.ProductRecord, 0, len(def.Records))
	for _, r := range def.Records {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			continue
		}
		records = append(records, types.ProductRecord{
			Source:     def.Name,
			Title:      title,
			Price:      r.Price,
			Identifier: strings.TrimSpace(r.Identifier),
			SourceKey:  strings.TrimSpace(r.Key),
			URL:        strings.TrimSpace(r.URL),
			ImageURL:   strings.TrimSpace(r.ImageURL),
			InStock:    r.InStock,
		})
	}

	return &StaticAdapter{
		name:    def.Name,
		baseURL: strings.TrimRight(base, "/"),
		seed:    seed,
		records: records,
	}, nil
}

// Name implements Source.
func (s *StaticAdapter) Name() string { return s.name }

// Describe implements Describer.
func (s *StaticAdapter) Describe() Descriptor {
	return Descriptor{Name: s.name, Kind: "static", BaseURL: s.baseURL}
}

// Search returns the configured records, or synthesized ones when none
// are configured, capped at limit.
func (s *StaticAdapter) Search(ctx context.Context, query string, limit int) ([]types.ProductRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	if len(s.records) > 0 {
		n := min(limit, len(s.records))
		out := make([]types.ProductRecord, n)
		copy(out, s.records[:n])
		return out, nil
	}
	return s.synthesize(query, limit), nil
}

func (s *StaticAdapter) synthesize(query string, limit int) []types.ProductRecord {
	// Deterministic pseudo-random from query and seed.
	h := fnv64(query + "|1")
	r := rand.New(rand.NewSource(int64(h) ^ s.seed))

	out := make([]types.ProductRecord, 0, limit)
	for i := 0; i < limit; i++ {
		key := fmt.Sprintf("%08d", i+1)
		price := float64(500+i*25+int(r.Int31n(5000))) / 100
		inStock := r.Int31n(10) > 0

		rec := types.ProductRecord{
			Source:    s.name,
			Title:     fmt.Sprintf("%s item %d", query, i+1),
			Price:     &price,
			SourceKey: key,
			URL:       s.baseURL + "/item/" + url.PathEscape(key),
			InStock:   &inStock,
		}
		if i%2 == 0 {
			rec.Identifier = fmt.Sprintf("%012d", r.Int63n(1_000_000_000_000))
		}
		out = append(out, rec)
	}
	return out
}

// fnv64 returns a simple 64-bit hash for deterministic synthetic data.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
