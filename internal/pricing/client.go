package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const clientAttempts = 3

// Client fetches reference prices from a catalog API:
//
//	GET {base}/v1/prices/{identifier} -> {"identifier":"...","price":12.34}
//
// Transient failures are retried with a linear backoff; a 404 means the
// catalog has no entry and is not an error.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient builds a catalog client. The limiter keeps lookup bursts
// during a scan from hammering the catalog.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		rateLimiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:      logger,
	}
}

// PriceFor implements Lookup.
func (c *Client) PriceFor(ctx context.Context, identifier string) (float64, bool, error) {
	reqURL := c.baseURL + "/v1/prices/" + url.PathEscape(identifier)

	var lastErr error
	for attempt := 1; attempt <= clientAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return 0, false, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doRequest(ctx, reqURL)
		if err != nil {
			c.logger.Warn("catalog request failed", "identifier", identifier, "attempt", attempt, "error", err)
			lastErr = err
			if err := sleepBackoff(ctx, attempt); err != nil {
				return 0, false, err
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return 0, false, nil
		}
		if resp.StatusCode != http.StatusOK {
			c.logger.Warn("catalog returned error status", "identifier", identifier, "attempt", attempt, "status", resp.StatusCode)
			lastErr = fmt.Errorf("%w: status %d", ErrCatalogUnavailable, resp.StatusCode)
			if err := sleepBackoff(ctx, attempt); err != nil {
				return 0, false, err
			}
			continue
		}

		var payload struct {
			Identifier string  `json:"identifier"`
			Price      float64 `json:"price"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return 0, false, fmt.Errorf("decode price response: %w", err)
		}
		if payload.Price <= 0 {
			return 0, false, nil
		}
		return payload.Price, true, nil
	}

	return 0, false, lastErr
}

func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dealscout/1.0")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return resp, nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt*500) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
