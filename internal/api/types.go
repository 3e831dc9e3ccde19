package api

import "dealscout/internal/sources"

// SourcesResponse lists the registered sources plus any definitions that
// were skipped at startup.
type SourcesResponse struct {
	Sources []sources.Descriptor `json:"sources"`
	Skipped []sources.SkipReport `json:"skipped,omitempty"`
}
