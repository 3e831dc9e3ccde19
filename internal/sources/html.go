package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dealscout/internal/config"
	"dealscout/internal/fetcher"
	"dealscout/pkg/types"
)

const (
	defaultLimit   = 10
	maxSearchPages = 3
)

// HTMLAdapter scrapes a storefront's HTML search results. Extraction is
// selector-driven: one selector locates product cards, the rest pull
// fields out of each card. Every page fetch is gated by the compliance
// agent and paced by the courtesy limiter.
type HTMLAdapter struct {
	name       string
	base       *url.URL
	searchPath string
	queryParam string
	pageParam  string
	pageSize   int
	keyAttr    string
	detail     bool
	selectors  config.SelectorsConfig

	fetch    fetcher.Fetcher
	policy   ComplianceAgent
	cache    IdentifierLookup
	courtesy *Courtesy
	logger   *slog.Logger
}

// NewHTMLAdapter builds an adapter from a source definition. The
// definition must carry an absolute base URL plus card and title
// selectors; everything else has workable defaults.
func NewHTMLAdapter(def config.SourceConfig, fetch fetcher.Fetcher, policy ComplianceAgent, cache IdentifierLookup, logger *slog.Logger) (*HTMLAdapter, error) {
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
	if def.Selectors.Card == "" || def.Selectors.Title == "" {
		return nil, errors.New("html sources need selectors.card and selectors.title")
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

	return &HTMLAdapter{
		name:       def.Name,
		base:       base,
		searchPath: def.SearchPath,
		queryParam: queryParam,
		pageParam:  def.PageParam,
		pageSize:   pageSize,
		keyAttr:    def.KeyAttr,
		detail:     def.DetailIdentifier,
		selectors:  def.Selectors,
		fetch:      fetch,
		policy:     policy,
		cache:      cache,
		courtesy:   NewCourtesy(0, 0),
		logger:     logger.With("source", def.Name),
	}, nil
}

// Name implements Source.
func (a *HTMLAdapter) Name() string { return a.name }

// Describe implements Describer.
func (a *HTMLAdapter) Describe() Descriptor {
	return Descriptor{Name: a.name, Kind: "html", BaseURL: a.base.String()}
}

// Search fetches result pages until limit records are collected, the
// source runs out of results, or the page budget is exhausted. A failure
// on the first page is fatal; later failures keep the records gathered
// so far.
func (a *HTMLAdapter) Search(ctx context.Context, query string, limit int) ([]types.ProductRecord, error) {
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

		pageURL := a.searchURL(query, page)
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

		batch, err := a.parseResults(resp.Body)
		if err != nil {
			if len(records) > 0 {
				a.logger.Warn("page parse failed, keeping earlier results", "page", page, "error", err)
				break
			}
			return nil, &ParseError{Source: a.name, URL: pageURL.String(), Err: err}
		}
		if len(batch) == 0 {
			break
		}

		for _, rec := range batch {
			if len(records) >= limit {
				break
			}
			if rec.Identifier == "" && rec.SourceKey != "" && a.cache != nil {
				if id, ok := a.cache.Lookup(CacheKey(a.name, rec.SourceKey)); ok {
					rec.Identifier = id
				}
			}
			if rec.Identifier == "" && a.detail && rec.URL != "" {
				rec.Identifier = a.detailIdentifier(ctx, rec.URL)
			}
			records = append(records, rec)
		}

		// A short page means the source ran out of results.
		if len(batch) < a.pageSize {
			break
		}
	}

	return records, nil
}

func (a *HTMLAdapter) searchURL(query string, page int) *url.URL {
	u := a.base.JoinPath(a.searchPath)
	q := u.Query()
	q.Set(a.queryParam, query)
	if a.pageParam != "" && page > 1 {
		q.Set(a.pageParam, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u
}

func (a *HTMLAdapter) parseResults(body []byte) ([]types.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []types.ProductRecord
	doc.Find(a.selectors.Card).Each(func(_ int, card *goquery.Selection) {
		title := cleanText(card.Find(a.selectors.Title).First().Text())
		if title == "" {
			// Cards without a title are navigation chrome or ads.
			return
		}

		rec := types.ProductRecord{Source: a.name, Title: title}
		if a.selectors.Price != "" {
			rec.Price = ParsePrice(card.Find(a.selectors.Price).First().Text())
		}
		if a.selectors.Link != "" {
			if href, ok := card.Find(a.selectors.Link).First().Attr("href"); ok {
				rec.URL = resolveURL(a.base, href)
			}
		}
		if a.selectors.Image != "" {
			if src, ok := card.Find(a.selectors.Image).First().Attr("src"); ok {
				rec.ImageURL = resolveURL(a.base, src)
			}
		}
		if a.keyAttr != "" {
			if key, ok := card.Attr(a.keyAttr); ok {
				rec.SourceKey = strings.TrimSpace(key)
			}
		}
		rec.InStock = a.stockState(card)
		rec.Identifier = ExtractIdentifier(card.Text())

		out = append(out, rec)
	})
	return out, nil
}

// stockState returns nil when availability cannot be determined, so the
// record carries "unknown" rather than a guess.
func (a *HTMLAdapter) stockState(card *goquery.Selection) *bool {
	if a.selectors.Stock == "" {
		return nil
	}
	node := card.Find(a.selectors.Stock).First()
	if node.Length() == 0 {
		return nil
	}

	marker := a.selectors.OutOfStockText
	if marker == "" {
		marker = "out of stock"
	}
	text := strings.ToLower(cleanText(node.Text()))
	inStock := !strings.Contains(text, strings.ToLower(marker))
	return &inStock
}

// detailIdentifier fetches a product page and scans it for an
// identifier. Failures are soft: the record just stays unidentified.
func (a *HTMLAdapter) detailIdentifier(ctx context.Context, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return ""
	}
	if a.policy != nil && !a.policy.Allowed(ctx, u) {
		return ""
	}
	if err := a.courtesy.Pause(ctx); err != nil {
		return ""
	}

	page, err := a.fetch.Fetch(ctx, types.FetchRequest{URL: u})
	if err != nil {
		a.logger.Debug("detail fetch failed", "url", rawURL, "error", err)
		return ""
	}
	if page.StatusCode >= 400 {
		return ""
	}
	return ExtractIdentifier(string(page.Body))
}
