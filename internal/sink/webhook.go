package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dealscout/internal/config"
)

// WebhookSink posts each batch of candidates to an external endpoint as a
// single JSON document.
type WebhookSink struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

type webhookPayload struct {
	Destination string `json:"destination"`
	Rows        []Row  `json:"rows"`
}

// NewWebhook creates a webhook sink from configuration.
func NewWebhook(cfg config.WebhookSinkConfig, logger *slog.Logger) (*WebhookSink, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("webhook sink: url is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("webhook sink: invalid url %q", cfg.URL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		client:   &http.Client{Timeout: cfg.Timeout.Or(10 * time.Second)},
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Append delivers the batch. Any status outside 2xx counts as a failed
// delivery.
func (s *WebhookSink) Append(ctx context.Context, destination string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookPayload{Destination: destination, Rows: rows})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	s.logger.Debug("delivered webhook batch", "destination", destination, "rows", len(rows))
	return nil
}
