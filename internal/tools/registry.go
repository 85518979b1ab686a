// Package tools implements the process-wide Tool Registry: a typed table of
// named tools, each with a schema, a handler, an enable flag, and a
// retention policy.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

// Handler executes a tool call and returns a result value. Returning an
// error is equivalent to returning a structured error result; a string
// result beginning with one of the error prefixes in IsErrorResult is
// treated as a tool-execution error by the Turn Engine.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// SingletonKeyFunc computes a displacement key for a tool result: a new
// result with the same key as a prior one for the same tool replaces it
// instead of accumulating.
type SingletonKeyFunc func(args json.RawMessage, result any) string

// ResultTransformFunc post-processes a handler's result into the text
// stored in the tool_result chunk, before storage.
type ResultTransformFunc func(args json.RawMessage, result any) (string, error)

// Entry is one registered tool: its schema, handler, and retention policy.
type Entry struct {
	Name         string
	Description  string
	Schema       json.RawMessage
	Handler      Handler
	Enabled      bool
	Category     string
	MaxCallPairs int

	SingletonKey    SingletonKeyFunc
	ResultTransform ResultTransformFunc

	compiled *jsonschema.Schema
}

// Registry is the process-wide, thread-safe table of tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Entry)}
}

// Register compiles the entry's schema (so a malformed schema is caught at
// registration rather than dispatch) and adds it to the registry.
func (r *Registry) Register(e *Entry) error {
	if e == nil || e.Name == "" {
		return fmt.Errorf("tool entry must have a name")
	}
	if len(e.Schema) > 0 {
		compiled, err := compileSchema(e.Name, e.Schema)
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", e.Name, err)
		}
		e.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[e.Name] = e
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Get returns the named entry and whether it is registered.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Enable/Disable flip a single tool's enabled flag. Dispatch and schema
// enumeration both check this flag at the time they run, never caching it.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tools[name]; ok {
		e.Enabled = true
	}
}

func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tools[name]; ok {
		e.Enabled = false
	}
}

// EnableOnly disables every tool, then enables exactly the named ones. Not
// transactional across tools: callers that need atomicity with other state
// changes must hold their own lock around this call.
func (r *Registry) EnableOnly(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for name, e := range r.tools {
		e.Enabled = want[name]
	}
}

// DisableAll disables every registered tool.
func (r *Registry) DisableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.tools {
		e.Enabled = false
	}
}

// GetEnabledSchemas returns the OpenAI function-calling schemas for every
// currently enabled tool.
func (r *Registry) GetEnabledSchemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(r.tools))
	for _, e := range r.tools {
		if !e.Enabled {
			continue
		}
		out = append(out, models.ToolSchema{
			Type: "function",
			Function: models.ToolSchemaFunction{
				Name:        e.Name,
				Description: e.Description,
				Parameters:  e.Schema,
			},
		})
	}
	return out
}

// GetByCategory returns every tool in the given category, optionally
// filtered to only enabled tools.
func (r *Registry) GetByCategory(category string, enabledOnly bool) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.tools {
		if e.Category != category {
			continue
		}
		if enabledOnly && !e.Enabled {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ValidateArgs validates args against the tool's compiled schema, if one
// was provided at registration.
func (e *Entry) ValidateArgs(args json.RawMessage) error {
	if e.compiled == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return err
	}
	return e.compiled.Validate(v)
}
