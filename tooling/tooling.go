// Package tooling defines the tool-execution side of the agent loop: the
// system preamble, tool dispatch, and the decision whether a round produced
// the final answer.
package tooling

import (
	"context"

	"github.com/mashiike/promptloop/parser"
)

// ToolDelims tells the tooling how tools are listed in the preamble and how
// the model is expected to write a tool call.
type ToolDelims struct {
	AvailableTools parser.Pair
	ToolCall       parser.Pair
}

// System is the result of Init.
type System struct {
	Preamble   string
	StatusTool string // reserved name used for status snapshots, never dispatched
}

// Decision is the outcome of Prompt: either the final answer, or the text of
// the next user turn (which may be empty).
type Decision struct {
	Final bool   `json:"final"`
	Text  string `json:"text"`
}

// FinalAnswer ends the conversation with answer.
func FinalAnswer(answer string) Decision {
	return Decision{Final: true, Text: answer}
}

// Continue keeps the conversation going; next becomes a user message unless empty.
func Continue(next string) Decision {
	return Decision{Text: next}
}

// CallResult is the output of one tool call and an optional status snapshot.
type CallResult struct {
	Output string
	Status *string
}

// Tooling is built once per run from the raw configuration text.
type Tooling interface {
	// Init returns the system preamble and the reserved status tool name.
	Init(ctx context.Context, delims ToolDelims) System
	// Prompt is called with the external input first, then with the visible
	// content of every round.
	Prompt(ctx context.Context, text string) Decision
	// Call executes a tool. Failures are reported in the output text.
	Call(ctx context.Context, name, arguments string) CallResult
}

// Factory builds a Tooling from the raw configuration text.
type Factory func(config string) (Tooling, error)
