// Package promptloop drives the decision loop of a tool-using language model
// agent: it asks the model for a reply, dispatches the tool calls found in it,
// lets the tooling decide whether the run is finished, and keeps the history
// within a character budget between rounds.
package promptloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Songmu/flextime"
	"github.com/mashiike/promptloop/conversation"
	"github.com/mashiike/promptloop/model"
	"github.com/mashiike/promptloop/parser"
	"github.com/mashiike/promptloop/tooling"
)

//go:generate go tool mockgen -destination=mock_model_test.go -package=promptloop github.com/mashiike/promptloop/model Model
//go:generate go tool mockgen -destination=mock_tooling_test.go -package=promptloop github.com/mashiike/promptloop/tooling Tooling

// FailurePrefix starts every output that reports a failed run.
const FailurePrefix = "Failed: "

// Agent runs conversations. It holds no per-run state, so one Agent may serve
// concurrent Run calls.
type Agent struct {
	// Model overrides the model resolved from the configured provider.
	Model model.Model
	// Parser extracts content and tool calls from raw replies. Defaults to parser.Default.
	Parser parser.Parser
	// NewTooling builds the tooling for each run. Defaults to tooling.New.
	NewTooling  tooling.Factory
	Recorder    Recorder
	IDGenerator IDGenerator
	Logger      *slog.Logger
}

var defaultAgent = &Agent{}

// Run runs one conversation with a default Agent.
func Run(ctx context.Context, input, config string) string {
	return defaultAgent.Run(ctx, input, config)
}

// Run drives the conversation for input until the tooling produces a final
// answer. Failures are reported in the returned text with FailurePrefix.
func (a *Agent) Run(ctx context.Context, input, config string) string {
	out, err := a.Execute(ctx, input, config)
	if err != nil {
		return FailurePrefix + err.Error()
	}
	return out
}

// Execute is Run with the failure returned as an error.
func (a *Agent) Execute(ctx context.Context, input, config string) (string, error) {
	r := a.newRun()
	answer, err := r.execute(ctx, input, config)
	if err != nil {
		r.record(ctx, r.round, EntryError, map[string]any{"error": err.Error()})
		r.logger.WarnContext(ctx, "run failed", "round", r.round, "error", err)
		return "", err
	}
	r.logger.InfoContext(ctx, "run completed", "rounds", r.round)
	return answer, nil
}

func (a *Agent) newRun() *run {
	ids := a.IDGenerator
	if ids == nil {
		ids = &DefaultIDGenerator{}
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := a.Parser
	if p == nil {
		p = parser.Default
	}
	factory := a.NewTooling
	if factory == nil {
		factory = tooling.New
	}
	id := ids.GenerateRunID()
	return &run{
		id:         id,
		agent:      a,
		parser:     p,
		newTooling: factory,
		recorder:   a.Recorder,
		logger:     logger.With("run_id", id),
	}
}

type run struct {
	id         string
	agent      *Agent
	parser     parser.Parser
	newTooling tooling.Factory
	recorder   Recorder
	logger     *slog.Logger

	cfg    *Config
	policy RetryPolicy
	model  model.Model
	tools  tooling.Tooling
	status string
	round  int
}

func (r *run) execute(ctx context.Context, input, config string) (string, error) {
	cfg, err := LoadConfig(config)
	if err != nil {
		return "", err
	}
	r.cfg = cfg
	r.policy, err = cfg.RetryPolicy()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	r.model = r.agent.Model
	if r.model == nil {
		r.model, err = model.GetModel(ctx, cfg.Provider, cfg.Model)
		if err != nil {
			return "", fmt.Errorf("model: %w", err)
		}
	}
	r.tools, err = r.newTooling(config)
	if err != nil {
		return "", fmt.Errorf("tooling: %w", err)
	}
	if tb, ok := r.tools.(*tooling.Toolbox); ok && tb.Logger == nil {
		tb.Logger = r.logger
	}

	sys := r.tools.Init(ctx, cfg.ToolDelims())
	r.status = sys.StatusTool
	r.logger.InfoContext(ctx, "starting run", "provider", cfg.Provider, "model", r.model.ID(), "status_tool", r.status)

	first := r.tools.Prompt(ctx, input)
	r.record(ctx, 0, EntryDecision, first)
	if first.Final {
		r.logger.DebugContext(ctx, "input answered without completion")
		return first.Text, nil
	}

	req := &model.GenerateRequest{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Stream:      cfg.Streaming(),
		Messages: conversation.Conversation{
			conversation.System(sys.Preamble),
			conversation.User(first.Text),
		},
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.round++
		answer, done, err := r.step(ctx, req)
		if err != nil {
			return "", err
		}
		if done {
			return answer, nil
		}
	}
}

// step runs one round and replaces req.Messages with the compacted history.
func (r *run) step(ctx context.Context, req *model.GenerateRequest) (string, bool, error) {
	r.logger.DebugContext(ctx, "round starting", "round", r.round, "messages", len(req.Messages), "weight", req.Messages.Weight())
	r.record(ctx, r.round, EntryLLMRequest, map[string]any{
		"messages": len(req.Messages),
		"weight":   req.Messages.Weight(),
	})

	resp, err := r.generate(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("completion: %w", err)
	}
	r.record(ctx, r.round, EntryLLMResponse, map[string]any{
		"text":       resp.Text,
		"tool_calls": resp.ToolCalls,
		"usage":      resp.Usage,
	})

	parsed := r.parser.Parse(resp.Text, r.cfg.ParserDelims())
	calls := resp.ToolCalls
	if len(calls) == 0 {
		calls = parsed.ToolCalls
	}
	content := strings.TrimSpace(parsed.Content)

	messages := req.Messages
	if content != "" {
		messages = append(messages, conversation.Assistant(content))
	}
	for _, call := range calls {
		if call.Name == r.status {
			r.logger.DebugContext(ctx, "skipping call to the status tool", "round", r.round, "arguments", call.Arguments)
			continue
		}
		result := r.tools.Call(ctx, call.Name, call.Arguments)
		messages = append(messages, conversation.ToolCall(model.EncodeToolCall(call), result.Output))
		if result.Status != nil {
			messages = append(messages, conversation.Status(r.status, *result.Status))
		}
		r.record(ctx, r.round, EntryToolCall, map[string]any{
			"name":      call.Name,
			"arguments": call.Arguments,
			"output":    result.Output,
			"status":    result.Status,
		})
	}

	decision := r.tools.Prompt(ctx, content)
	r.record(ctx, r.round, EntryDecision, decision)
	if decision.Final {
		return decision.Text, true, nil
	}
	if decision.Text != "" {
		messages = append(messages, conversation.User(decision.Text))
	}

	budget := r.cfg.Budget()
	compacted := conversation.Compact(messages, budget)
	if dropped := len(messages) - len(compacted); dropped > 0 {
		r.logger.DebugContext(ctx, "history compacted", "round", r.round, "dropped", dropped, "weight", compacted.Weight())
		r.record(ctx, r.round, EntryCompaction, map[string]any{
			"before":  len(messages),
			"after":   len(compacted),
			"dropped": dropped,
			"weight":  compacted.Weight(),
			"budget":  budget,
		})
	}
	req.Messages = compacted
	return "", false, nil
}

func (r *run) generate(ctx context.Context, req *model.GenerateRequest) (*model.GenerateResponse, error) {
	var resp *model.GenerateResponse
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.model.Generate(ctx, req)
		return err
	}, func(attempt int, err error) {
		r.logger.WarnContext(ctx, "completion failed", "round", r.round, "attempt", attempt, "error", err)
		r.record(ctx, r.round, EntryError, map[string]any{
			"error":   err.Error(),
			"stage":   "completion",
			"attempt": attempt,
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &model.GenerateResponse{}
	}
	return resp, nil
}

func (r *run) record(ctx context.Context, round int, typ string, data any) {
	if r.recorder == nil {
		return
	}
	entry := Entry{
		RunID:     r.id,
		Round:     round,
		Type:      typ,
		Timestamp: flextime.Now(),
		Data:      data,
	}
	if err := r.recorder.Record(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "failed to write transcript entry", "error", err)
	}
}
