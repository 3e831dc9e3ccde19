package fetcher

import (
	"context"
	"log/slog"

	"dealscout/pkg/types"
)

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, req types.FetchRequest) (*types.Page, error)
}

// Escalating implements the two-tier fetch policy shared by all sources:
// a direct HTTP fetch, followed by exactly one browser-rendered retry when
// the response status lands in the bot-suspect set or the direct fetch
// fails outright. It never retries more than once per request.
type Escalating struct {
	direct   Fetcher
	renderer Renderer
	suspect  map[int]struct{}
	logger   *slog.Logger
}

// NewEscalating wraps a direct fetcher with an optional rendered tier.
// A nil renderer disables escalation entirely.
func NewEscalating(direct Fetcher, renderer Renderer, suspectStatuses []int, logger *slog.Logger) *Escalating {
	if logger == nil {
		logger = slog.Default()
	}
	suspect := make(map[int]struct{}, len(suspectStatuses))
	for _, status := range suspectStatuses {
		suspect[status] = struct{}{}
	}
	return &Escalating{
		direct:   direct,
		renderer: renderer,
		suspect:  suspect,
		logger:   logger,
	}
}

// Fetch retrieves the page, escalating at most once. When the rendered
// retry also fails, the direct response (or its error) is returned so the
// caller can parse whatever arrived; the failure is logged, not raised.
func (e *Escalating) Fetch(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	if req.Render && e.renderer != nil {
		page, err := e.renderer.Render(ctx, req)
		if err == nil {
			return page, nil
		}
		e.logger.Warn("renderer failed, falling back to direct fetch",
			"url", req.URL.String(), "error", err)
		req.Render = false
	}

	page, err := e.direct.Fetch(ctx, req)
	if err != nil {
		if e.renderer == nil || ctx.Err() != nil {
			return nil, err
		}
		e.logger.Warn("direct fetch failed, escalating to rendered fetch",
			"url", req.URL.String(), "error", err)
		rendered, rerr := e.renderer.Render(ctx, req)
		if rerr != nil {
			e.logger.Warn("escalated fetch failed",
				"url", req.URL.String(), "error", rerr)
			return nil, err
		}
		return rendered, nil
	}

	if _, ok := e.suspect[page.StatusCode]; ok && e.renderer != nil {
		e.logger.Warn("bot-suspect status, escalating to rendered fetch",
			"url", req.URL.String(), "status", page.StatusCode)
		rendered, rerr := e.renderer.Render(ctx, req)
		if rerr != nil {
			e.logger.Warn("escalated fetch failed, keeping direct response",
				"url", req.URL.String(), "error", rerr)
			return page, nil
		}
		return rendered, nil
	}

	return page, nil
}
