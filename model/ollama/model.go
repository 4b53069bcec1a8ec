// Package ollama provides a model provider implementation for interacting with the Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
	"gopkg.in/yaml.v3"
)

func init() {
	endpoint := DefaultEndpoint
	if ollamaHost := os.Getenv("OLLAMA_HOST"); ollamaHost != "" {
		endpoint = ollamaHost + "/api/chat"
	}

	p := &ModelProvider{
		Endpoint: endpoint,
	}
	model.Register("ollama", p)
}

const DefaultEndpoint = "http://localhost:11434/api/chat"

type ModelProvider struct {
	Endpoint   string
	HTTPClient *http.Client
}

type Model struct {
	endpoint string
	modelID  string
	client   *http.Client
}

func (p *ModelProvider) GetModel(ctx context.Context, modelID string) (model.Model, error) {
	if modelID == "" {
		return nil, errors.New("model ID cannot be empty")
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Model{
		endpoint: p.Endpoint,
		modelID:  modelID,
		client:   client,
	}, nil
}

func (m *Model) ID() string {
	return m.modelID
}

// Generate posts the conversation to /api/chat. A request BaseURL overrides
// the provider endpoint.
func (m *Model) Generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	ollamaReq := ChatRequest{
		Model:  m.modelID,
		Stream: req.Stream,
	}
	if req.Temperature != nil || req.TopP != nil {
		ollamaReq.Options = &Options{
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
	}
	for _, msg := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, m.convertMessage(msg)...)
	}

	endpoint := m.endpoint
	if req.BaseURL != "" {
		endpoint = strings.TrimRight(req.BaseURL, "/") + "/api/chat"
	}
	return m.callOllama(ctx, endpoint, req.APIKey, ollamaReq)
}

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Options  *Options  `json:"options,omitempty"`
	Stream   bool      `json:"stream"`
}

type ChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// convertMessage converts a conversation message to Ollama messages
func (m *Model) convertMessage(msg conversation.Message) []Message {
	switch msg.Kind {
	case conversation.KindSystem:
		return []Message{{Role: "system", Content: msg.Content}}
	case conversation.KindUser:
		return []Message{{Role: "user", Content: msg.Content}}
	case conversation.KindAssistant:
		return []Message{{Role: "assistant", Content: msg.Content}}
	}

	tc, ok := model.DecodeToolCall(msg.Call)
	if !ok {
		if msg.Kind == conversation.KindToolCall {
			return []Message{
				{Role: "assistant", Content: msg.Call},
				{Role: "user", Content: msg.Content},
			}
		}
		tc = model.ToolCall{Name: msg.Call, Arguments: "{}"}
	}
	return []Message{
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{Function: ToolFunction{Name: tc.Name, Arguments: json.RawMessage(tc.Arguments)}},
			},
		},
		{Role: "tool", Name: tc.Name, Content: msg.Content},
	}
}

// callOllama makes HTTP request to Ollama API
func (m *Model) callOllama(ctx context.Context, endpoint, apiKey string, req ChatRequest) (*model.GenerateResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read error response body: %w", err)
		}
		return nil, fmt.Errorf("ollama API error: %s - %s", resp.Status, string(body))
	}

	if !req.Stream {
		var chatResp ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return m.convertResponse(chatResp)
	}

	// streamed responses are newline delimited JSON objects
	var merged ChatResponse
	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stream chunk: %w", err)
		}
		content.WriteString(chunk.Message.Content)
		merged.Message.ToolCalls = append(merged.Message.ToolCalls, chunk.Message.ToolCalls...)
		if chunk.Done {
			merged.PromptEvalCount = chunk.PromptEvalCount
			merged.EvalCount = chunk.EvalCount
			merged.Done = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	merged.Message.Role = "assistant"
	merged.Message.Content = content.String()
	return m.convertResponse(merged)
}

// convertResponse converts Ollama response to model.GenerateResponse
func (m *Model) convertResponse(resp ChatResponse) (*model.GenerateResponse, error) {
	response := &model.GenerateResponse{
		Text:        resp.Message.Content,
		RawResponse: resp,
	}

	for _, tc := range resp.Message.ToolCalls {
		args, err := normalizeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		response.ToolCalls = append(response.ToolCalls, model.ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		response.Usage = &model.Usage{
			InputTokens:  model.Ptr(resp.PromptEvalCount),
			OutputTokens: model.Ptr(resp.EvalCount),
			TotalTokens:  model.Ptr(resp.PromptEvalCount + resp.EvalCount),
			ModelID:      m.modelID,
		}
	}

	return response, nil
}

// normalizeArguments returns tool arguments as JSON text. Some models emit
// arguments as a JSON string holding the object, or as loose YAML; both are
// accepted and re-encoded.
func normalizeArguments(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "{}", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(strings.TrimSpace(s))
		if len(raw) == 0 {
			return "{}", nil
		}
	}
	if json.Valid(raw) {
		return string(raw), nil
	}

	// YAML is a superset of JSON and more tolerant
	var args map[string]any
	if err := yaml.Unmarshal(raw, &args); err != nil {
		return "", err
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
