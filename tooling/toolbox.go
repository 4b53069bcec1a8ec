package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/jsonc"
)

// DefaultStatusTool is the reserved status tool name used when none is configured.
const DefaultStatusTool = "status"

const defaultInstructions = "You are a helpful assistant that solves the user's request, calling tools when they help."

const nudge = "Your last reply was empty. Answer the request, or call a tool if you need more information."

// Settings is the "tooling" section of the configuration.
type Settings struct {
	Instructions string   `json:"instructions"`
	StatusTool   string   `json:"status_tool"`
	Tools        []string `json:"tools"` // allow-list; empty means every registered tool
}

// Toolbox is the default Tooling. It offers tools from a Registry and treats
// a round without tool calls as the final answer.
type Toolbox struct {
	// Logger defaults to slog.Default(). The agent sets its run logger when nil.
	Logger *slog.Logger

	settings Settings
	tools    []Tool
	byName   map[string]Tool

	started bool
	pending int // tool calls since the last Prompt
}

// New builds a Toolbox backed by the global registry. It satisfies Factory.
func New(config string) (Tooling, error) {
	return NewToolbox(config, DefaultRegistry())
}

// NewToolbox builds a Toolbox from the raw configuration text.
func NewToolbox(config string, registry *Registry) (*Toolbox, error) {
	var doc struct {
		Tooling Settings `json:"tooling"`
	}
	if strings.TrimSpace(config) != "" {
		if err := json.Unmarshal(jsonc.ToJSON([]byte(config)), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse tooling settings: %w", err)
		}
	}
	s := doc.Tooling
	if s.StatusTool == "" {
		s.StatusTool = DefaultStatusTool
	}
	if s.Instructions == "" {
		s.Instructions = defaultInstructions
	}

	tb := &Toolbox{
		settings: s,
		byName:   make(map[string]Tool),
	}
	if registry == nil {
		registry = &Registry{}
	}
	if len(s.Tools) == 0 {
		tb.tools = registry.Tools()
	} else {
		for _, name := range s.Tools {
			t, err := registry.Resolve(name)
			if err != nil {
				return nil, err
			}
			tb.tools = append(tb.tools, t)
		}
	}
	for _, t := range tb.tools {
		if t.Name() == s.StatusTool {
			return nil, fmt.Errorf("tool %q collides with the reserved status tool name", t.Name())
		}
		tb.byName[t.Name()] = t
	}
	return tb, nil
}

type toolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (tb *Toolbox) logger() *slog.Logger {
	if tb.Logger == nil {
		return slog.Default()
	}
	return tb.Logger
}

// Init builds the system preamble.
func (tb *Toolbox) Init(ctx context.Context, delims ToolDelims) System {
	specs := make([]toolSpec, 0, len(tb.tools))
	for _, t := range tb.tools {
		specs = append(specs, toolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	list, err := json.MarshalIndent(specs, "", "  ")
	if err != nil {
		tb.logger().WarnContext(ctx, "failed to encode tool list", "error", err)
		list = []byte("[]")
	}

	var b strings.Builder
	b.WriteString(tb.settings.Instructions)
	b.WriteString("\n\n# Tools\n\n")
	b.WriteString("The tools you can call are listed as JSON below.\n")
	b.WriteString(delims.AvailableTools.Open)
	b.WriteString("\n")
	b.Write(list)
	b.WriteString("\n")
	b.WriteString(delims.AvailableTools.Close)
	b.WriteString("\n\nTo call a tool, write a JSON object with \"name\" and \"arguments\" between ")
	fmt.Fprintf(&b, "%s and %s, for example:\n", delims.ToolCall.Open, delims.ToolCall.Close)
	fmt.Fprintf(&b, "%s{\"name\": \"tool_name\", \"arguments\": {}}%s\n", delims.ToolCall.Open, delims.ToolCall.Close)
	b.WriteString("You may call several tools in one reply; their results are returned to you before your next turn.\n")
	fmt.Fprintf(&b, "Messages from the %q tool report the current status; never call it yourself.\n", tb.settings.StatusTool)
	b.WriteString("When you know the final answer, reply with it and do not call any tool.")

	return System{Preamble: b.String(), StatusTool: tb.settings.StatusTool}
}

// Prompt decides how the conversation continues. The first call turns the
// external input into the first user turn; later calls end the run when the
// round produced text and no tool calls.
func (tb *Toolbox) Prompt(ctx context.Context, text string) Decision {
	if !tb.started {
		tb.started = true
		if strings.TrimSpace(text) == "" {
			return FinalAnswer("")
		}
		return Continue(text)
	}
	if tb.pending > 0 {
		tb.pending = 0
		return Continue("")
	}
	if strings.TrimSpace(text) == "" {
		return Continue(nudge)
	}
	return FinalAnswer(text)
}

// Call executes the named tool.
func (tb *Toolbox) Call(ctx context.Context, name, arguments string) CallResult {
	tb.pending++
	t, ok := tb.byName[name]
	if !ok {
		tb.logger().DebugContext(ctx, "tool not available", "tool", name)
		return CallResult{Output: fmt.Sprintf("tool %q is not available", name)}
	}
	args := json.RawMessage(strings.TrimSpace(arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		tb.logger().DebugContext(ctx, "tool call failed", "tool", name, "error", err)
		return CallResult{Output: fmt.Sprintf("tool %q failed: %v", name, err)}
	}
	if result == nil {
		return CallResult{}
	}
	out := CallResult{Output: result.Output}
	if result.Status != "" {
		status := result.Status
		out.Status = &status
	}
	return out
}
