package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/minutes-core/internal/infrastructure/config"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		model   string
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid",
			apiKey: "test-key",
			model:  "gpt-4o-mini",
		},
		{
			name:    "missing API key",
			model:   "gpt-4o-mini",
			wantErr: true,
			errMsg:  "API key is required",
		},
		{
			name:    "missing model",
			apiKey:  "test-key",
			wantErr: true,
			errMsg:  "model name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewBackend(tt.apiKey, tt.model)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, backend)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, backend)
			}
		})
	}
}

func TestNewBackends(t *testing.T) {
	cfg := config.LLMConfig{
		APIKey: "test-key",
		Models: []string{"gpt-4o-mini", "gpt-4o"},
	}

	backends, err := NewBackends(cfg)
	require.NoError(t, err)
	require.Len(t, backends, 2)

	assert.Equal(t, "openai/gpt-4o-mini", backends[0].Name())
	assert.Equal(t, "openai/gpt-4o", backends[1].Name())
}

func TestNewBackends_NoModels(t *testing.T) {
	_, err := NewBackends(config.LLMConfig{APIKey: "test-key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one LLM model")
}

func TestSupportsStructuredOutput(t *testing.T) {
	chat, err := NewBackend("test-key", "gpt-4o-mini")
	require.NoError(t, err)
	assert.True(t, chat.SupportsStructuredOutput())

	legacy, err := NewBackend("test-key", "gpt-3.5-turbo-instruct")
	require.NoError(t, err)
	assert.False(t, legacy.SupportsStructuredOutput())
}
