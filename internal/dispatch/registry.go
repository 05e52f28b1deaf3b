package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler runs one command. params is the raw JSON parameter object (never nil;
// "{}" when the caller sent nothing). The returned value must be JSON-encodable.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

type entry struct {
	handler Handler
	schema  *jsonschema.Schema
}

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]entry)}
}

// Option configures a registered command.
type Option func(*entry) error

// WithSchema validates params against a JSON schema before the handler runs.
func WithSchema(schemaJSON string) Option {
	return func(e *entry) error {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			return fmt.Errorf("unmarshal schema JSON: %w", err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("params.json", doc); err != nil {
			return fmt.Errorf("add schema resource: %w", err)
		}
		schema, err := c.Compile("params.json")
		if err != nil {
			return fmt.Errorf("compile schema: %w", err)
		}
		e.schema = schema
		return nil
	}
}

// Handle registers an untyped handler. Registering a name twice replaces the handler.
func (r *Registry) Handle(name string, h Handler, opts ...Option) error {
	if name == "" {
		return fmt.Errorf("register: empty command name")
	}
	e := entry{handler: h}
	for _, opt := range opts {
		if err := opt(&e); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	r.mu.Lock()
	r.handlers[name] = e
	r.mu.Unlock()
	return nil
}

// Register adds a typed command: params are decoded into P and the R result is
// returned as the success payload. A decode failure is reported as INVALID_PARAMS.
func Register[P, R any](r *Registry, name string, fn func(ctx context.Context, params P) (R, error), opts ...Option) error {
	return r.Handle(name, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, Errorf(CodeInvalidParams, "decode %s params: %v", name, err)
			}
		}
		return fn(ctx, p)
	}, opts...)
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[name]
	return e, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Namespaces returns the distinct prefixes before the first "." of every command name.
func (r *Registry) Namespaces() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range r.Names() {
		ns, _, _ := strings.Cut(name, ".")
		if !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

func validate(schema *jsonschema.Schema, raw json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Errorf(CodeInvalidParams, "invalid JSON params: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Errorf(CodeInvalidParams, "params failed validation: %v", err)
	}
	return nil
}
