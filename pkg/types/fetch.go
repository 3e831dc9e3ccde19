package types

import (
	"net/http"
	"net/url"
	"time"
)

// FetchRequest addresses one page retrieval. Render asks for the
// browser-rendered path up front instead of waiting for an escalation
// signal.
type FetchRequest struct {
	URL    *url.URL
	Render bool
}

// Page represents the fetched content.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}
