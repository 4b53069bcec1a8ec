// Package parser extracts visible content and text-embedded tool calls from
// raw model output.
package parser

import (
	"encoding/json"
	"strings"

	"github.com/mashiike/promptloop/model"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Pair is an opening and closing delimiter.
type Pair struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Delims configures which spans the parser looks for.
type Delims struct {
	Reasoning *Pair // optional; reasoning spans are removed from content
	ToolCall  Pair  // tool call spans hold {"name":...,"arguments":...}
}

// Result is the outcome of parsing one model reply.
type Result struct {
	Content   string           `json:"content"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
}

// Parser turns raw model output into visible content and tool calls.
type Parser interface {
	Parse(raw string, delims *Delims) Result
}

// ParserFunc is an adapter to allow the use of ordinary functions as Parsers
type ParserFunc func(raw string, delims *Delims) Result

// Parse implements Parser interface
func (f ParserFunc) Parse(raw string, delims *Delims) Result {
	return f(raw, delims)
}

// Default is the delimiter based parser.
var Default Parser = ParserFunc(Parse)

// Parse removes reasoning spans and extracts tool call spans from raw. When
// delims is nil or no span is found the text is returned unchanged. A span
// whose body cannot be decoded as a tool call is left in the content.
func Parse(raw string, delims *Delims) Result {
	if delims == nil {
		return Result{Content: raw}
	}
	text := raw
	if delims.Reasoning != nil {
		text = stripReasoning(text, *delims.Reasoning)
	}
	content, calls := extractToolCalls(text, delims.ToolCall)
	return Result{Content: content, ToolCalls: calls}
}

func stripReasoning(text string, p Pair) string {
	if p.Open == "" || p.Close == "" {
		return text
	}
	// some models omit the opening tag and only emit the closing one
	if c := strings.Index(text, p.Close); c >= 0 {
		if o := strings.Index(text, p.Open); o < 0 || o > c {
			text = text[c+len(p.Close):]
		}
	}
	var b strings.Builder
	for {
		o := strings.Index(text, p.Open)
		if o < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:o])
		rest := text[o+len(p.Open):]
		c := strings.Index(rest, p.Close)
		if c < 0 {
			// unterminated reasoning runs to the end
			break
		}
		text = rest[c+len(p.Close):]
	}
	return b.String()
}

func extractToolCalls(text string, p Pair) (string, []model.ToolCall) {
	if p.Open == "" || p.Close == "" {
		return text, nil
	}
	var b strings.Builder
	var calls []model.ToolCall
	for {
		o := strings.Index(text, p.Open)
		if o < 0 {
			b.WriteString(text)
			break
		}
		rest := text[o+len(p.Open):]
		c := strings.Index(rest, p.Close)
		body, next := rest, ""
		if c >= 0 {
			body, next = rest[:c], rest[c+len(p.Close):]
		}
		parsed, ok := decodeToolCalls(body)
		if ok {
			b.WriteString(text[:o])
			calls = append(calls, parsed...)
		} else if c >= 0 {
			b.WriteString(text[:o+len(p.Open)+c+len(p.Close)])
		} else {
			b.WriteString(text)
		}
		if c < 0 {
			break
		}
		text = next
	}
	return b.String(), calls
}

// decodeToolCalls decodes a span body holding one call object or an array of them.
func decodeToolCalls(body string) ([]model.ToolCall, bool) {
	body = trimFence(strings.TrimSpace(body))
	if body == "" {
		return nil, false
	}
	if gjson.Valid(body) {
		root := gjson.Parse(body)
		var items []gjson.Result
		if root.IsArray() {
			items = root.Array()
		} else {
			items = []gjson.Result{root}
		}
		calls := make([]model.ToolCall, 0, len(items))
		for _, item := range items {
			tc, ok := fromJSON(item)
			if !ok {
				return nil, false
			}
			calls = append(calls, tc)
		}
		return calls, len(calls) > 0
	}

	var loose map[string]any
	if err := yaml.Unmarshal([]byte(body), &loose); err != nil || loose == nil {
		return nil, false
	}
	data, err := json.Marshal(loose)
	if err != nil {
		return nil, false
	}
	tc, ok := fromJSON(gjson.ParseBytes(data))
	if !ok {
		return nil, false
	}
	return []model.ToolCall{tc}, true
}

func fromJSON(obj gjson.Result) (model.ToolCall, bool) {
	if !obj.IsObject() {
		return model.ToolCall{}, false
	}
	name := obj.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return model.ToolCall{}, false
	}
	args := obj.Get("arguments")
	if !args.Exists() {
		args = obj.Get("parameters")
	}
	raw := "{}"
	switch {
	case args.Type == gjson.String && gjson.Valid(args.Str):
		// arguments double encoded as a JSON string
		raw = args.Str
	case args.Exists() && args.Type != gjson.Null:
		raw = args.Raw
	}
	return model.ToolCall{Name: strings.TrimSpace(name.Str), Arguments: raw}, true
}

func trimFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
