// Package model provides the completion adapter contract used by the agent loop,
// a registry of model providers, and hooks around generation.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mashiike/promptloop/conversation"
	"github.com/tidwall/gjson"
)

//go:generate go tool mockgen -source=model.go -destination=mock_model_test.go -package=model

// =============================================================================
// CORE MODEL TYPES
// =============================================================================

// GenerateRequest is everything a completion endpoint needs for one round.
type GenerateRequest struct {
	BaseURL     string                    `json:"base_url,omitempty"`
	APIKey      string                    `json:"-"`
	Temperature *float64                  `json:"temperature,omitempty"`
	TopP        *float64                  `json:"top_p,omitempty"`
	Messages    conversation.Conversation `json:"messages"` // Messages[0] is the system preamble
	Stream      bool                      `json:"stream"`
}

// ToolCall is a tool invocation requested by the model. Arguments is raw JSON text.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// GenerateResponse contains the generated text and any structured tool calls.
type GenerateResponse struct {
	Text        string     `json:"text"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Usage       *Usage     `json:"usage,omitempty"`
	RawResponse any        `json:"-"` // Provider-specific raw response (e.g., openai.ChatCompletion, bedrockruntime.ConverseOutput)
}

// Usage contains token usage information when the provider reports it
type Usage struct {
	InputTokens  *int   `json:"input_tokens,omitempty"`
	OutputTokens *int   `json:"output_tokens,omitempty"`
	TotalTokens  *int   `json:"total_tokens,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
}

// Model represents a language model endpoint
type Model interface {
	// ID returns the unique identifier for this model
	ID() string
	// Generate sends the whole conversation and returns the model's reply
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// ModelProvider manages models for a specific provider (e.g., ollama, openai)
type ModelProvider interface {
	// GetModel returns a specific model by ID
	GetModel(ctx context.Context, modelID string) (Model, error)
}

// EncodeToolCall returns the canonical call record for tc:
// {"name":<name>,"arguments":<arguments>}. Arguments are already serialized
// JSON and are embedded verbatim; empty arguments become {}.
func EncodeToolCall(tc ToolCall) string {
	name, err := json.Marshal(tc.Name)
	if err != nil {
		name = []byte(`""`)
	}
	args := strings.TrimSpace(tc.Arguments)
	if args == "" {
		args = "{}"
	}
	return fmt.Sprintf(`{"name":%s,"arguments":%s}`, name, args)
}

// DecodeToolCall parses a call record produced by EncodeToolCall. Arguments
// are returned as their raw JSON text.
func DecodeToolCall(record string) (ToolCall, bool) {
	if !gjson.Valid(record) {
		return ToolCall{}, false
	}
	name := gjson.Get(record, "name")
	if name.Type != gjson.String || name.Str == "" {
		return ToolCall{}, false
	}
	args := gjson.Get(record, "arguments").Raw
	if args == "" {
		args = "{}"
	}
	return ToolCall{Name: name.Str, Arguments: args}, true
}

// =============================================================================
// MODEL HOOKS
// =============================================================================

// PreGenerateHook is called before Model.Generate is executed
type PreGenerateHook func(ctx context.Context, providerID string, m Model, req *GenerateRequest) error

// PostGenerateHook is called after Model.Generate is executed
type PostGenerateHook func(ctx context.Context, providerID string, m Model, req *GenerateRequest, resp *GenerateResponse, err error) error

// ModelHooks contains hook functions for model operations
type ModelHooks struct {
	PreGenerate  []PreGenerateHook  // Called before Generate
	PostGenerate []PostGenerateHook // Called after Generate
}

// HookedModel wraps a Model with hooks
type HookedModel struct {
	model      Model
	hooks      *ModelHooks
	providerID string
}

// ID returns the ID of the wrapped model
func (h *HookedModel) ID() string {
	return h.model.ID()
}

// Generate executes pre-hooks, calls the original Generate, then executes post-hooks
func (h *HookedModel) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	for _, hook := range h.hooks.PreGenerate {
		if err := hook(ctx, h.providerID, h.model, req); err != nil {
			return nil, fmt.Errorf("pre-generate hook failed: %w", err)
		}
	}

	resp, err := h.model.Generate(ctx, req)

	for _, hook := range h.hooks.PostGenerate {
		if hookErr := hook(ctx, h.providerID, h.model, req, resp, err); hookErr != nil {
			// the original error wins
			slog.WarnContext(ctx, "post-generate hook failed", "provider", h.providerID, "error", hookErr)
		}
	}

	return resp, err
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Registry manages registered model providers
type Registry struct {
	providers map[string]ModelProvider
	hooks     *ModelHooks // global hooks for all providers
	mutex     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]ModelProvider),
		hooks:     &ModelHooks{},
	}
}

var globalRegistry = NewRegistry()

// Register registers a model provider with the given name
func Register(name string, provider ModelProvider) {
	globalRegistry.Register(name, provider)
}

// AddPreGenerateHook adds a global pre-generate hook
func AddPreGenerateHook(hook PreGenerateHook) {
	globalRegistry.AddPreGenerateHook(hook)
}

// AddPostGenerateHook adds a global post-generate hook
func AddPostGenerateHook(hook PostGenerateHook) {
	globalRegistry.AddPostGenerateHook(hook)
}

// Register registers a model provider with the given name
func (r *Registry) Register(name string, provider ModelProvider) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]ModelProvider)
	}
	r.providers[name] = provider
}

// AddPreGenerateHook adds a pre-generate hook
func (r *Registry) AddPreGenerateHook(hook PreGenerateHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.hooks == nil {
		r.hooks = &ModelHooks{}
	}
	r.hooks.PreGenerate = append(r.hooks.PreGenerate, hook)
}

// AddPostGenerateHook adds a post-generate hook
func (r *Registry) AddPostGenerateHook(hook PostGenerateHook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.hooks == nil {
		r.hooks = &ModelHooks{}
	}
	r.hooks.PostGenerate = append(r.hooks.PostGenerate, hook)
}

// GetProvider returns a registered provider by name
func GetProvider(name string) (ModelProvider, error) {
	return globalRegistry.GetProvider(name)
}

// GetProvider returns a registered provider by name
func (r *Registry) GetProvider(name string) (ModelProvider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not registered", name)
	}
	return provider, nil
}

// ListProviders returns all registered provider names
func ListProviders() []string {
	return globalRegistry.ListProviders()
}

// ListProviders returns all registered provider names
func (r *Registry) ListProviders() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// GetModel is a convenience function to get a model from a provider
func GetModel(ctx context.Context, providerName, modelID string) (Model, error) {
	return globalRegistry.GetModel(ctx, providerName, modelID)
}

// GetModel gets a model and wraps it with hooks if any are registered
func (r *Registry) GetModel(ctx context.Context, providerName, modelID string) (Model, error) {
	provider, err := r.GetProvider(providerName)
	if err != nil {
		return nil, err
	}

	model, err := provider.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	r.mutex.RLock()
	hooks := r.hooks
	r.mutex.RUnlock()

	if hooks == nil || (len(hooks.PreGenerate) == 0 && len(hooks.PostGenerate) == 0) {
		return model, nil
	}

	return &HookedModel{
		model:      model,
		hooks:      hooks,
		providerID: providerName,
	}, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the value v.
// This is a generic helper function for creating pointers to values.
func Ptr[T any](v T) *T {
	return &v
}
