package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"dealscout/internal/config"
	"dealscout/internal/fetcher"
	"dealscout/pkg/types"
)

// APIAdapter queries a source's JSON search endpoint. It accepts either
// a {"products": [...]} envelope or a bare array, and tolerates prices
// encoded as numbers or display strings.
type APIAdapter struct {
	name       string
	base       *url.URL
	searchPath string
	queryParam string
	limitParam string
	pageParam  string
	pageSize   int

	fetch    fetcher.Fetcher
	policy   ComplianceAgent
	cache    IdentifierLookup
	courtesy *Courtesy
	logger   *slog.Logger
}

type apiProduct struct {
	Title    string          `json:"title"`
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	InStock  *bool           `json:"in_stock"`
	URL      string          `json:"product_url"`
	ImageURL string          `json:"image_url"`
	UPC      string          `json:"upc"`
	SKU      string          `json:"sku"`
}

type apiEnvelope struct {
	Products []apiProduct `json:"products"`
}

// NewAPIAdapter builds an adapter from a source definition.
func NewAPIAdapter(def config.SourceConfig, fetch fetcher.Fetcher, policy ComplianceAgent, cache IdentifierLookup, logger *slog.Logger) (*APIAdapter, error) {
	if def.Name == "" {
		return nil, errors.New("source name is required")
	}
	if fetch == nil {
		return nil, errors.New("fetcher is required")
	}
	base, err := url.Parse(def.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base_url %q is not absolute", def.BaseURL)
	}

	queryParam := def.QueryParam
	if queryParam == "" {
		queryParam = "q"
	}
	pageSize := def.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &APIAdapter{
		name:       def.Name,
		base:       base,
		searchPath: def.SearchPath,
		queryParam: queryParam,
		limitParam: def.LimitParam,
		pageParam:  def.PageParam,
		pageSize:   pageSize,
		fetch:      fetch,
		policy:     policy,
		cache:      cache,
		courtesy:   NewCourtesy(0, 0),
		logger:     logger.With("source", def.Name),
	}, nil
}

// Name implements Source.
func (a *APIAdapter) Name() string { return a.name }

// Describe implements Describer.
func (a *APIAdapter) Describe() Descriptor {
	return Descriptor{Name: a.name, Kind: "api", BaseURL: a.base.String()}
}

// Search queries the endpoint, paging only when a page parameter is
// configured. The same first-page-fatal discipline as the HTML adapter
// applies.
func (a *APIAdapter) Search(ctx context.Context, query string, limit int) ([]types.ProductRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	pages := 1
	if a.pageParam != "" {
		pages = (limit + a.pageSize - 1) / a.pageSize
		if pages > maxSearchPages {
			pages = maxSearchPages
		}
	}

	records := make([]types.ProductRecord, 0, limit)
	for page := 1; page <= pages && len(records) < limit; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		pageURL := a.searchURL(query, page, limit)
		if a.policy != nil && !a.policy.Allowed(ctx, pageURL) {
			if len(records) > 0 {
				a.logger.Warn("crawl policy denied further pages", "url", pageURL.String())
				break
			}
			return nil, fmt.Errorf("%s: %s: %w", a.name, pageURL.Host, ErrComplianceDenied)
		}
		if err := a.courtesy.Pause(ctx); err != nil {
			return records, err
		}

		resp, err := a.fetch.Fetch(ctx, types.FetchRequest{URL: pageURL})
		if err == nil && resp.StatusCode >= 400 {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		if err != nil {
			if len(records) > 0 && ctx.Err() == nil {
				a.logger.Warn("page fetch failed, keeping earlier results", "page", page, "error", err)
				break
			}
			return nil, &FetchError{Source: a.name, URL: pageURL.String(), Err: err}
		}

		items, err := decodeProducts(resp.Body)
		if err != nil {
			if len(records) > 0 {
				a.logger.Warn("page decode failed, keeping earlier results", "page", page, "error", err)
				break
			}
			return nil, &ParseError{Source: a.name, URL: pageURL.String(), Err: err}
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if len(records) >= limit {
				break
			}
			rec, ok := a.convert(item)
			if !ok {
				continue
			}
			if rec.Identifier == "" && rec.SourceKey != "" && a.cache != nil {
				if id, found := a.cache.Lookup(CacheKey(a.name, rec.SourceKey)); found {
					rec.Identifier = id
				}
			}
			records = append(records, rec)
		}

		// A short page means the source ran out of results.
		if len(items) < a.pageSize {
			break
		}
	}

	return records, nil
}

func (a *APIAdapter) searchURL(query string, page, limit int) *url.URL {
	u := a.base.JoinPath(a.searchPath)
	q := u.Query()
	q.Set(a.queryParam, query)
	if a.limitParam != "" {
		q.Set(a.limitParam, strconv.Itoa(limit))
	}
	if a.pageParam != "" && page > 1 {
		q.Set(a.pageParam, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u
}

func (a *APIAdapter) convert(item apiProduct) (types.ProductRecord, bool) {
	title := cleanText(item.Title)
	if title == "" {
		title = cleanText(item.Name)
	}
	if title == "" {
		return types.ProductRecord{}, false
	}

	rec := types.ProductRecord{
		Source:    a.name,
		Title:     title,
		Price:     priceFromJSON(item.Price),
		InStock:   item.InStock,
		URL:       resolveURL(a.base, item.URL),
		ImageURL:  resolveURL(a.base, item.ImageURL),
		SourceKey: strings.TrimSpace(item.SKU),
	}
	if upc := strings.TrimSpace(item.UPC); ValidIdentifier(upc) {
		rec.Identifier = upc
	}
	return rec, true
}

func decodeProducts(body []byte) ([]apiProduct, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	if trimmed[0] == '[' {
		var items []apiProduct
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode product array: %w", err)
		}
		return items, nil
	}

	var env apiEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode product envelope: %w", err)
	}
	return env.Products, nil
}

// priceFromJSON accepts 12.5, "12.50", or "$12.50"; nil means absent or
// unparseable.
func priceFromJSON(raw json.RawMessage) *float64 {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return &num
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParsePrice(s)
	}
	return nil
}
