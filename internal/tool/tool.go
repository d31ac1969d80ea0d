// Package tool holds the shared registry of tool schemas and handlers, plus
// the schema-driven argument repair and validation the orchestrator runs
// before invoking a handler.
package tool

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/harunnryd/sekisho/internal/errors"
)

// Schema describes one tool in OpenAI function-schema terms. Parameters is a
// JSON-schema object ({type, properties, required}).
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Result is the JSON object a handler returns. Every result carries an "ok"
// field; failures add "error".
type Result map[string]any

func Success(fields map[string]any) Result {
	r := Result{"ok": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func Failure(msg string) Result {
	return Result{"ok": false, "error": msg}
}

func (r Result) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

func (r Result) JSON() string {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return `{"ok":false,"error":"unserializable tool result"}`
	}
	return string(b)
}

// Handler executes one tool call. Handlers report tool-level failures inside
// the Result, not as Go errors.
type Handler func(ctx context.Context, callID string, args map[string]any) Result

type entry struct {
	schema  Schema
	handler Handler
}

// Registry is the shared-readable name → (schema, handler) map. Lookups copy
// the schema; handlers are shared.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(schema Schema, handler Handler) {
	if schema.Name == "" {
		panic("tool: empty tool name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[schema.Name] = entry{schema: schema, handler: handler}
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

func (r *Registry) Get(name string) (Schema, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Schema{}, nil, false
	}
	return e.schema, e.handler, true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]Schema, 0, len(r.entries))
	for _, e := range r.entries {
		schemas = append(schemas, e.schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Invoke repairs and validates arguments, then runs the handler. Callers get
// ErrToolNotFound for unknown names and ErrInvalidArguments for schema
// violations; handler-level failures come back inside the Result.
func (r *Registry) Invoke(ctx context.Context, name, callID string, rawArgs json.RawMessage) (Result, error) {
	schema, handler, ok := r.Get(name)
	if !ok {
		return nil, errors.Wrap(errors.ErrToolNotFound, "tool not found: "+name)
	}

	args, err := RepairArguments(schema, rawArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateLoose(schema, args); err != nil {
		return nil, err
	}
	return handler(ctx, callID, args), nil
}
