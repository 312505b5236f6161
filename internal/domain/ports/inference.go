// Package ports defines interfaces for external service communication.
package ports

import "context"

// InferenceRequest is a logical text-inference request, independent of which
// backend ends up serving it. Two requests with the same fields are the same
// request for caching purposes.
type InferenceRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	JSONOutput  bool    `json:"json_output,omitempty"` // Structured-output hint; stripped for backends that reject it
	Temperature float32 `json:"temperature,omitempty"`
}

// InferenceResponse is the result of a completed inference request.
type InferenceResponse struct {
	Content string `json:"content"`
	Backend string `json:"backend,omitempty"` // Which backend produced it; informational only
}

// InferenceBackend is a single interchangeable text-inference provider.
// Backends are configured in a fixed priority order and tried in sequence by
// the gateway; a backend never sees requests the cache can answer.
type InferenceBackend interface {
	// Name identifies the backend for logging and response attribution.
	Name() string

	// SupportsStructuredOutput reports whether the backend accepts the
	// JSONOutput formatting hint. The gateway strips the hint before
	// dispatching to backends that do not.
	SupportsStructuredOutput() bool

	// Complete runs one inference request.
	Complete(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
}
