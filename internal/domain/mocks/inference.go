// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/minutes-core/internal/domain/ports"
)

// InferenceBackend is a mock implementation of ports.InferenceBackend.
// Responses are served in order; when they run out the last one repeats.
type InferenceBackend struct {
	BackendName  string
	Structured   bool
	Responses    []string
	Err          error
	mu           sync.Mutex
	calls        int
	SeenRequests []ports.InferenceRequest
}

// Name identifies the backend.
func (m *InferenceBackend) Name() string {
	if m.BackendName == "" {
		return "mock"
	}
	return m.BackendName
}

// SupportsStructuredOutput reports the configured capability.
func (m *InferenceBackend) SupportsStructuredOutput() bool {
	return m.Structured
}

// Complete returns the next configured response or the configured error.
func (m *InferenceBackend) Complete(ctx context.Context, req ports.InferenceRequest) (ports.InferenceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SeenRequests = append(m.SeenRequests, req)
	m.calls++
	if m.Err != nil {
		return ports.InferenceResponse{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ports.InferenceResponse{}, nil
	}

	i := m.calls - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return ports.InferenceResponse{Content: m.Responses[i]}, nil
}

// Calls returns how many times Complete was invoked.
func (m *InferenceBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
