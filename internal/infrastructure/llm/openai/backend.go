// Package openai provides InferenceBackend implementations using OpenAI.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/minutes-core/internal/domain/ports"
	"github.com/ersonp/minutes-core/internal/infrastructure/config"
)

// Backend implements ports.InferenceBackend against one OpenAI chat model.
type Backend struct {
	client *openai.Client
	model  string
}

// NewBackend creates an inference backend for a single model.
func NewBackend(apiKey, model string) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if model == "" {
		return nil, errors.New("model name is required")
	}

	return &Backend{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewBackends builds the configured backend chain, in priority order.
func NewBackends(cfg config.LLMConfig) ([]ports.InferenceBackend, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("at least one LLM model is required")
	}

	backends := make([]ports.InferenceBackend, 0, len(cfg.Models))
	for _, model := range cfg.Models {
		b, err := NewBackend(cfg.APIKey, model)
		if err != nil {
			return nil, fmt.Errorf("configuring backend %q: %w", model, err)
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// Name identifies the backend by its model.
func (b *Backend) Name() string {
	return "openai/" + b.model
}

// SupportsStructuredOutput reports whether the model accepts the JSON
// response-format parameter. Older completion models reject it.
func (b *Backend) SupportsStructuredOutput() bool {
	return !strings.HasPrefix(b.model, "gpt-3.5-turbo-instruct")
}

// Complete runs one inference request against the model.
func (b *Backend) Complete(ctx context.Context, req ports.InferenceRequest) (ports.InferenceResponse, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return ports.InferenceResponse{}, fmt.Errorf("calling OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return ports.InferenceResponse{}, errors.New("no response from OpenAI")
	}

	return ports.InferenceResponse{
		Content: resp.Choices[0].Message.Content,
		Backend: b.Name(),
	}, nil
}
