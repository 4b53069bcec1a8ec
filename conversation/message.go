// Package conversation provides the message log exchanged with a language model
// and the history compaction that keeps it under a size budget.
package conversation

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of a Message.
type Kind string

const (
	KindSystem    Kind = "system"
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindToolCall  Kind = "tool_call" // Call holds the canonical call encoding, Content the tool output
	KindStatus    Kind = "status"    // Call holds the reserved status tool name, Content the status text
)

// Message is one entry of a Conversation.
//
// System, User and Assistant messages carry only Content. ToolCall and Status
// messages pair a call record with its result text; the pair is a single
// message so compaction can never split it.
type Message struct {
	Kind    Kind   `json:"kind"`
	Call    string `json:"call,omitempty"`
	Content string `json:"content"`
}

// System creates a system (preamble) message.
func System(text string) Message {
	return Message{Kind: KindSystem, Content: text}
}

// User creates a user message.
func User(text string) Message {
	return Message{Kind: KindUser, Content: text}
}

// Assistant creates an assistant message.
func Assistant(text string) Message {
	return Message{Kind: KindAssistant, Content: text}
}

// ToolCall creates a message pairing a tool call record with the tool's output.
func ToolCall(call, result string) Message {
	return Message{Kind: KindToolCall, Call: call, Content: result}
}

// Status creates a synthetic status snapshot, recorded as a call of the
// reserved status tool.
func Status(call, status string) Message {
	return Message{Kind: KindStatus, Call: call, Content: status}
}

// IsStatus reports whether m is a status snapshot.
func (m Message) IsStatus() bool {
	return m.Kind == KindStatus
}

// Weight returns the textual size of the message: the sum of the lengths of
// every text field it carries.
func (m Message) Weight() int {
	return len(m.Call) + len(m.Content)
}

// Validate checks that the message kind is known and that only paired kinds
// carry a call record.
func (m Message) Validate() error {
	switch m.Kind {
	case KindSystem, KindUser, KindAssistant:
		if m.Call != "" {
			return fmt.Errorf("%s message must not carry a call record", m.Kind)
		}
		return nil
	case KindToolCall, KindStatus:
		return nil
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

func (m Message) String() string {
	switch m.Kind {
	case KindToolCall, KindStatus:
		return fmt.Sprintf("%s(%q, %q)", m.Kind, m.Call, m.Content)
	default:
		return fmt.Sprintf("%s(%q)", m.Kind, m.Content)
	}
}

// UnmarshalJSON decodes a message and rejects unknown kinds.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	msg := Message(a)
	if err := msg.Validate(); err != nil {
		return err
	}
	*m = msg
	return nil
}

// Conversation is a chronologically ordered message log. Element 0 is the
// preamble.
type Conversation []Message

// Preamble returns the first message and whether the conversation has one.
func (c Conversation) Preamble() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[0], true
}

// Weight returns the total weight of every message after the preamble.
func (c Conversation) Weight() int {
	total := 0
	for i := 1; i < len(c); i++ {
		total += c[i].Weight()
	}
	return total
}

// StatusCount returns how many status snapshots the conversation contains.
func (c Conversation) StatusCount() int {
	n := 0
	for _, m := range c {
		if m.IsStatus() {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no backing array with c.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}
