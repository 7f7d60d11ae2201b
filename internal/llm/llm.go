// Package llm resolves a model key against the catalog and dispatches
// chat-completion requests to the owning provider's HTTP endpoint.
package llm

import "errors"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Resolution and dispatch failures callers are expected to branch on.
var (
	ErrNoModel         = errors.New("llm: no usable model in catalog")
	ErrNoProvider      = errors.New("llm: model has no active provider")
	ErrNoAPIKey        = errors.New("llm: provider api key env var not set")
	ErrEmptyCompletion = errors.New("llm: no completion content")
)
