package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is a callable tool offered to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage // JSON Schema for arguments
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is what a tool returns. A non-empty Status is reported to the model
// as the current status snapshot.
type Result struct {
	Output string
	Status string
}

type funcTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args json.RawMessage) (*Result, error)
}

// NewTool creates a Tool from a function.
func NewTool(name, description string, schema json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (*Result, error)) Tool {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &funcTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *funcTool) Name() string            { return t.name }
func (t *funcTool) Description() string     { return t.description }
func (t *funcTool) Schema() json.RawMessage { return t.schema }
func (t *funcTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	return t.fn(ctx, args)
}

// Registry implements http.ServeMux-like tool routing
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// Register registers a tool under its name.
// Panics if the name is empty or already registered (similar to http.ServeMux)
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool == nil {
		panic("tooling: nil tool")
	}
	name := tool.Name()
	if name == "" {
		panic("tooling: invalid tool name")
	}
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tooling: multiple registrations for tool %q", name))
	}
	r.tools[name] = tool
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	return tool, nil
}

// Tools returns every registered tool sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

var globalRegistry Registry

// Register registers a tool with the global registry.
// Panics if the tool name is already registered
func Register(tool Tool) {
	globalRegistry.Register(tool)
}

// DefaultRegistry returns the global registry used by New.
func DefaultRegistry() *Registry {
	return &globalRegistry
}
