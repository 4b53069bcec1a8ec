// Package openai provides a completion adapter for OpenAI-compatible chat completion endpoints.
package openai

import (
	"context"
	"errors"

	"github.com/mashiike/promptloop/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	p := &ModelProvider{}
	model.Register("openai", p)
}

// ModelProvider creates TextModels. Endpoint and credentials travel with each
// request, so the provider itself holds only extra client options.
type ModelProvider struct {
	// Options are appended to the per-request client options (e.g. option.WithHTTPClient).
	Options []option.RequestOption
}

// GetModel returns a model instance for the given model ID
func (p *ModelProvider) GetModel(ctx context.Context, modelID string) (model.Model, error) {
	if modelID == "" {
		return nil, errors.New("model ID cannot be empty")
	}
	return &TextModel{
		modelID: modelID,
		options: p.Options,
	}, nil
}

// newClient builds a client for one request. Retries are disabled because the
// agent loop owns the retry policy.
func newClient(req *model.GenerateRequest, extra []option.RequestOption) openai.Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	if req.APIKey != "" {
		opts = append(opts, option.WithAPIKey(req.APIKey))
	}
	opts = append(opts, extra...)
	return openai.NewClient(opts...)
}
