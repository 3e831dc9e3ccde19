package scan

import (
	"dealscout/internal/arbitrage"
	"dealscout/internal/config"
	"dealscout/internal/sources"
	"dealscout/pkg/types"
)

// SourceState classifies the outcome of one source within a pass.
type SourceState string

const (
	StateOK      SourceState = "ok"
	StateDenied  SourceState = "denied"
	StateError   SourceState = "error"
	StateTimeout SourceState = "timeout"
)

// SourceStatus is the per-source breakdown of one pass. Records counts
// what the source contributed to the merged output, so a failed source
// always reports zero.
type SourceStatus struct {
	Name    string          `json:"name"`
	State   SourceState     `json:"state"`
	Error   string          `json:"error,omitempty"`
	Records int             `json:"records"`
	Elapsed config.Duration `json:"elapsed"`
}

// Report is the full outcome of one orchestration pass.
type Report struct {
	Query          string                `json:"query"`
	Records        []types.ProductRecord `json:"records"`
	Candidates     []arbitrage.Candidate `json:"candidates"`
	Unmatched      []types.ProductRecord `json:"unmatched,omitempty"`
	Statuses       []SourceStatus        `json:"statuses"`
	Skipped        []sources.SkipReport  `json:"skipped,omitempty"`
	NewIdentifiers int                   `json:"new_identifiers"`
	Elapsed        config.Duration       `json:"elapsed"`
}

// Succeeded counts the sources that completed normally.
func (r *Report) Succeeded() int {
	n := 0
	for _, s := range r.Statuses {
		if s.State == StateOK {
			n++
		}
	}
	return n
}
