package types

// ProductRecord is the normalized listing every source adapter emits.
// Optional fields stay absent (nil pointer, empty string) rather than
// carrying sentinel values that could be mistaken for real data.
type ProductRecord struct {
	Source     string   `json:"source"`
	Title      string   `json:"title"`
	Price      *float64 `json:"price,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	SourceKey  string   `json:"source_key,omitempty"`
	URL        string   `json:"url,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	InStock    *bool    `json:"in_stock,omitempty"`
}

// ScanRequest describes one orchestration pass over a set of sources.
// An empty Sources list selects every registered source.
type ScanRequest struct {
	Query      string   `json:"query"`
	Sources    []string `json:"sources,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}
