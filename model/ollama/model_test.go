package ollama

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
)

var shot = flag.Bool("shot", false, "run tests against real Ollama instance")

func TestModelProvider_GetModel(t *testing.T) {
	provider := &ModelProvider{
		Endpoint: DefaultEndpoint,
	}

	ctx := context.Background()

	// Test successful model creation
	model, err := provider.GetModel(ctx, "llama3.2")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if model.ID() != "llama3.2" {
		t.Errorf("Expected model ID 'llama3.2', got %s", model.ID())
	}

	// Test empty model ID
	_, err = provider.GetModel(ctx, "")
	if err == nil {
		t.Error("Expected error for empty model ID")
	}
}

func TestModel_ConvertMessage_Regular(t *testing.T) {
	m := &Model{modelID: "llama3.2", endpoint: DefaultEndpoint}

	cases := []struct {
		msg  conversation.Message
		role string
	}{
		{conversation.System("sys"), "system"},
		{conversation.User("Hello, how are you?"), "user"},
		{conversation.Assistant("I'm doing well, thank you!"), "assistant"},
	}
	for _, c := range cases {
		msgs := m.convertMessage(c.msg)
		if len(msgs) != 1 {
			t.Fatalf("Expected 1 message, got %d", len(msgs))
		}
		if msgs[0].Role != c.role {
			t.Errorf("Expected role '%s', got %s", c.role, msgs[0].Role)
		}
		if msgs[0].Content != c.msg.Content {
			t.Errorf("Expected content '%s', got %s", c.msg.Content, msgs[0].Content)
		}
	}
}

func TestModel_ConvertMessage_ToolCall(t *testing.T) {
	m := &Model{modelID: "llama3.2", endpoint: DefaultEndpoint}

	msgs := m.convertMessage(conversation.ToolCall(`{"name":"get_weather","arguments":{"location":"Tokyo"}}`, "sunny"))
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) != 1 {
		t.Fatalf("Expected assistant tool call, got %+v", msgs[0])
	}
	if msgs[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("Expected function name 'get_weather', got %s", msgs[0].ToolCalls[0].Function.Name)
	}
	if string(msgs[0].ToolCalls[0].Function.Arguments) != `{"location":"Tokyo"}` {
		t.Errorf("Unexpected arguments: %s", msgs[0].ToolCalls[0].Function.Arguments)
	}
	if msgs[1].Role != "tool" || msgs[1].Content != "sunny" || msgs[1].Name != "get_weather" {
		t.Errorf("Unexpected tool result message: %+v", msgs[1])
	}

	status := m.convertMessage(conversation.Status("status", "idle"))
	if len(status) != 2 || status[0].ToolCalls[0].Function.Name != "status" {
		t.Errorf("Expected status to render as a status tool call, got %+v", status)
	}
	if string(status[0].ToolCalls[0].Function.Arguments) != "{}" {
		t.Errorf("Expected empty arguments, got %s", status[0].ToolCalls[0].Function.Arguments)
	}
}

func TestModel_ConvertResponse_WithToolCalls(t *testing.T) {
	m := &Model{modelID: "llama3.2", endpoint: DefaultEndpoint}

	resp := ChatResponse{
		Message: Message{
			Role:    "assistant",
			Content: "",
			ToolCalls: []ToolCall{
				{Function: ToolFunction{Name: "object_args", Arguments: json.RawMessage(`{"a":1}`)}},
				{Function: ToolFunction{Name: "string_args", Arguments: json.RawMessage(`"{\"b\":2}"`)}},
				{Function: ToolFunction{Name: "yaml_args", Arguments: json.RawMessage(`"c: 3"`)}},
				{Function: ToolFunction{Name: "no_args"}},
			},
		},
		Done: true,
	}

	result, err := m.convertResponse(resp)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []model.ToolCall{
		{Name: "object_args", Arguments: `{"a":1}`},
		{Name: "string_args", Arguments: `{"b":2}`},
		{Name: "yaml_args", Arguments: `{"c":3}`},
		{Name: "no_args", Arguments: `{}`},
	}
	if len(result.ToolCalls) != len(want) {
		t.Fatalf("Expected %d tool calls, got %d", len(want), len(result.ToolCalls))
	}
	for i := range want {
		if result.ToolCalls[i] != want[i] {
			t.Errorf("tool call %d: expected %+v, got %+v", i, want[i], result.ToolCalls[i])
		}
	}
	if result.Usage != nil {
		t.Errorf("Expected no usage, got %+v", result.Usage)
	}
}

func TestModel_Generate_HTTP(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hi there"},"done":true,"prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	p := &ModelProvider{Endpoint: DefaultEndpoint}
	m, err := p.GetModel(context.Background(), "llama3.2")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := m.Generate(context.Background(), &model.GenerateRequest{
		BaseURL:     srv.URL + "/",
		Temperature: model.Ptr(0.5),
		Messages:    conversation.Conversation{conversation.System("s"), conversation.User("hello")},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.Text != "hi there" {
		t.Errorf("Expected 'hi there', got %s", resp.Text)
	}
	if resp.Usage == nil || *resp.Usage.TotalTokens != 5 {
		t.Errorf("Expected usage total 5, got %+v", resp.Usage)
	}
	if got.Model != "llama3.2" || len(got.Messages) != 2 || got.Stream {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.Options == nil || got.Options.Temperature == nil || *got.Options.Temperature != 0.5 {
		t.Errorf("Expected temperature option, got %+v", got.Options)
	}
}

func TestModel_Generate_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo","tool_calls":[{"function":{"name":"x","arguments":{"k":"v"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"eval_count":4}`)
	}))
	defer srv.Close()

	m := &Model{modelID: "llama3.2", endpoint: srv.URL + "/api/chat", client: http.DefaultClient}
	resp, err := m.Generate(context.Background(), &model.GenerateRequest{
		Stream:   true,
		Messages: conversation.Conversation{conversation.System("s")},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.Text != "Hello" {
		t.Errorf("Expected 'Hello', got %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments != `{"k":"v"}` {
		t.Errorf("Unexpected tool calls: %+v", resp.ToolCalls)
	}
}

func TestModel_Generate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	m := &Model{modelID: "missing", endpoint: srv.URL, client: http.DefaultClient}
	_, err := m.Generate(context.Background(), &model.GenerateRequest{
		Messages: conversation.Conversation{conversation.System("s")},
	})
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}
}

func TestModel_Generate_Integration(t *testing.T) {
	if !*shot {
		t.Skip("use -shot to run against a real Ollama instance")
	}
	p := &ModelProvider{Endpoint: DefaultEndpoint}
	m, err := p.GetModel(context.Background(), "llama3.2")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := m.Generate(context.Background(), &model.GenerateRequest{
		Messages: conversation.Conversation{
			conversation.System("Answer in one word."),
			conversation.User("What color is the sky on a clear day?"),
		},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	t.Logf("response: %s", resp.Text)
}
