package model

// ResearchStatus is the coarse outcome of a provider search.
type ResearchStatus string

const (
	ResearchSuccess ResearchStatus = "success"
	ResearchPartial ResearchStatus = "partial"
	ResearchError   ResearchStatus = "error"
)

// ResearchResult is the immutable outcome of one search invocation.
type ResearchResult struct {
	Providers []Provider     `json:"providers"`
	Method    Backend        `json:"method"`
	Status    ResearchStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}
