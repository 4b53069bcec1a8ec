package promptloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
	"github.com/mashiike/promptloop/parser"
	"github.com/mashiike/promptloop/tooling"
	"github.com/tidwall/jsonc"
)

// ErrInvalidConfig is returned for configuration text that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultProvider is used when the configuration does not name a provider.
const DefaultProvider = "openai"

// Config is the per-run configuration. The same text is also handed to the
// tooling, which reads its own section, so unknown fields are ignored.
type Config struct {
	BaseURL       string       `json:"base_url"`
	APIKey        string       `json:"api_key,omitempty"`
	Model         string       `json:"model"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	Delims        DelimsConfig `json:"delims"`
	HistoryBudget *int         `json:"history_budget,omitempty"`
	Provider      string       `json:"provider,omitempty"`
	Stream        *bool        `json:"stream,omitempty"`
	Retry         RetryConfig  `json:"retry"`
}

// DelimsConfig holds delimiter pairs, each written as ["open", "close"].
type DelimsConfig struct {
	Reasoning      []string `json:"reasoning,omitempty"`
	AvailableTools []string `json:"available_tools"`
	ToolCall       []string `json:"tool_call"`
}

// RetryConfig controls how failed completion requests are retried.
type RetryConfig struct {
	MaxAttempts     int    `json:"max_attempts,omitempty"` // -1 retries forever
	InitialInterval string `json:"initial_interval,omitempty"`
	MaxInterval     string `json:"max_interval,omitempty"`
}

// LoadConfig parses and validates configuration text. Comments and trailing
// commas are allowed.
func LoadConfig(text string) (*Config, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty configuration", ErrInvalidConfig)
	}
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text)), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fillDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.HistoryBudget == nil {
		c.HistoryBudget = model.Ptr(conversation.DefaultBudget)
	}
	if c.Stream == nil {
		c.Stream = model.Ptr(true)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
}

// Validate reports the first problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.Model) == "" {
		return invalid("model is required")
	}
	switch c.Provider {
	case "openai", "ollama":
		if strings.TrimSpace(c.BaseURL) == "" {
			return invalid("base_url is required for provider %q", c.Provider)
		}
	}
	if c.Reasoning() == nil && c.Delims.Reasoning != nil {
		return invalid("delims.reasoning must be two non-empty strings")
	}
	if _, ok := toPair(c.Delims.AvailableTools); !ok {
		return invalid("delims.available_tools must be two non-empty strings")
	}
	if _, ok := toPair(c.Delims.ToolCall); !ok {
		return invalid("delims.tool_call must be two non-empty strings")
	}
	if c.HistoryBudget != nil && *c.HistoryBudget < 0 {
		return invalid("history_budget must not be negative")
	}
	if c.Retry.MaxAttempts < -1 {
		return invalid("retry.max_attempts must be positive or -1")
	}
	if _, err := c.RetryPolicy(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// Budget returns the history budget in characters.
func (c *Config) Budget() int {
	if c.HistoryBudget == nil {
		return conversation.DefaultBudget
	}
	return *c.HistoryBudget
}

// Streaming reports whether streaming completions are requested.
func (c *Config) Streaming() bool {
	return c.Stream == nil || *c.Stream
}

// Reasoning returns the reasoning delimiters, if configured.
func (c *Config) Reasoning() *parser.Pair {
	if c.Delims.Reasoning == nil {
		return nil
	}
	p, ok := toPair(c.Delims.Reasoning)
	if !ok {
		return nil
	}
	return &p
}

// ParserDelims returns the delimiters the response parser looks for.
func (c *Config) ParserDelims() *parser.Delims {
	tc, _ := toPair(c.Delims.ToolCall)
	return &parser.Delims{Reasoning: c.Reasoning(), ToolCall: tc}
}

// ToolDelims returns the delimiters handed to the tooling.
func (c *Config) ToolDelims() tooling.ToolDelims {
	at, _ := toPair(c.Delims.AvailableTools)
	tc, _ := toPair(c.Delims.ToolCall)
	return tooling.ToolDelims{AvailableTools: at, ToolCall: tc}
}

// RetryPolicy builds the completion retry policy.
func (c *Config) RetryPolicy() (RetryPolicy, error) {
	p := DefaultRetryPolicy
	if c.Retry.MaxAttempts != 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialInterval != "" {
		d, err := time.ParseDuration(c.Retry.InitialInterval)
		if err != nil {
			return p, fmt.Errorf("retry.initial_interval: %w", err)
		}
		p.InitialInterval = d
	}
	if c.Retry.MaxInterval != "" {
		d, err := time.ParseDuration(c.Retry.MaxInterval)
		if err != nil {
			return p, fmt.Errorf("retry.max_interval: %w", err)
		}
		p.MaxInterval = d
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 {
		return p, errors.New("retry intervals must not be negative")
	}
	return p, nil
}

func toPair(v []string) (parser.Pair, bool) {
	if len(v) != 2 || v[0] == "" || v[1] == "" {
		return parser.Pair{}, false
	}
	return parser.Pair{Open: v[0], Close: v[1]}, true
}
