package promptloop

import (
	"errors"
	"testing"
	"time"

	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
	// local model
	"base_url": "http://localhost:8080/v1",
	"model": "qwen3",
	"temperature": 0.2,
	"delims": {
		"reasoning": ["<think>", "</think>"],
		"available_tools": ["<tools>", "</tools>"],
		"tool_call": ["<tool_call>", "</tool_call>"],
	},
	"retry": {"initial_interval": "1ms", "max_interval": "2ms"},
}`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(testConfig)
	require.NoError(t, err)

	assert.Equal(t, "qwen3", cfg.Model)
	assert.Equal(t, DefaultProvider, cfg.Provider)
	assert.Equal(t, conversation.DefaultBudget, cfg.Budget())
	assert.True(t, cfg.Streaming())
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-9)
	assert.Nil(t, cfg.TopP)

	assert.Equal(t, &parser.Delims{
		Reasoning: &parser.Pair{Open: "<think>", Close: "</think>"},
		ToolCall:  parser.Pair{Open: "<tool_call>", Close: "</tool_call>"},
	}, cfg.ParserDelims())
	td := cfg.ToolDelims()
	assert.Equal(t, parser.Pair{Open: "<tools>", Close: "</tools>"}, td.AvailableTools)
	assert.Equal(t, parser.Pair{Open: "<tool_call>", Close: "</tool_call>"}, td.ToolCall)

	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, policy)
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := LoadConfig(`{
		"provider": "bedrock",
		"model": "anthropic.claude",
		"history_budget": 0,
		"stream": false,
		"delims": {"available_tools": ["[", "]"], "tool_call": ["{{", "}}"]},
		"retry": {"max_attempts": -1}
	}`)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Budget())
	assert.False(t, cfg.Streaming())
	assert.Nil(t, cfg.ParserDelims().Reasoning)
	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, -1, policy.MaxAttempts)
}

func TestLoadConfig_Invalid(t *testing.T) {
	delims := `"delims": {"available_tools": ["<t>", "</t>"], "tool_call": ["<c>", "</c>"]}`
	tests := []struct {
		name   string
		config string
		detail string
	}{
		{"empty", "  ", "empty configuration"},
		{"not json", "{model", ""},
		{"missing model", `{"base_url": "http://x", ` + delims + `}`, "model is required"},
		{"missing base url", `{"model": "m", ` + delims + `}`, `base_url is required for provider "openai"`},
		{"missing tool call delims", `{"base_url": "http://x", "model": "m", "delims": {"available_tools": ["a", "b"]}}`, "delims.tool_call must be two non-empty strings"},
		{"short pair", `{"base_url": "http://x", "model": "m", "delims": {"available_tools": ["a"], "tool_call": ["a", "b"]}}`, "delims.available_tools must be two non-empty strings"},
		{"bad reasoning", `{"base_url": "http://x", "model": "m", "delims": {"reasoning": ["", "x"], "available_tools": ["a", "b"], "tool_call": ["c", "d"]}}`, "delims.reasoning must be two non-empty strings"},
		{"negative budget", `{"base_url": "http://x", "model": "m", "history_budget": -1, ` + delims + `}`, "history_budget must not be negative"},
		{"bad attempts", `{"base_url": "http://x", "model": "m", "retry": {"max_attempts": -2}, ` + delims + `}`, "retry.max_attempts must be positive or -1"},
		{"bad interval", `{"base_url": "http://x", "model": "m", "retry": {"initial_interval": "soon"}, ` + delims + `}`, "retry.initial_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.config)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), "invalid configuration: "+tt.detail)
		})
	}
}
