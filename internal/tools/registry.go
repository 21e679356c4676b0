package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/herald/internal/intent"
)

// Error is a classified tool failure.
type Error struct {
	Code    intent.ErrCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds a classified tool error.
func Errf(code intent.ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RunFunc executes a tool with validated args.
type RunFunc func(ctx context.Context, args map[string]any) (map[string]any, *Error)

// Tool declares one executable action: its compact arg schema, which args
// are required, and how to run it.
type Tool struct {
	Name        string
	Description string
	ArgSchema   map[string]any // compact: property name -> type string
	Required    []string
	Validate    func(args map[string]any) error // optional extra checks
	Run         RunFunc
}

// GetFullArgSchema returns the expanded JSON Schema for the tool's args.
func (t Tool) GetFullArgSchema() any {
	return expandSchema(t.ArgSchema, t.Required)
}

func expandSchema(schema map[string]any, required []string) any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	// If it already looks like a JSON schema (has "type"), return as-is
	if _, hasType := schema["type"]; hasType {
		return schema
	}

	// Otherwise, treat as a compact map of property:type
	properties := make(map[string]any)
	for k, v := range schema {
		propType, isString := v.(string)
		if isString {
			properties[k] = map[string]string{"type": propType}
		} else {
			properties[k] = v
		}
	}

	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Registry holds the builtin tool set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %q has no run function", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Known reports whether name is a registered tool.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe returns a tool's description and expanded arg schema.
func (r *Registry) Describe(name string) (string, any, bool) {
	t, ok := r.Get(name)
	if !ok {
		return "", nil, false
	}
	return t.Description, t.GetFullArgSchema(), true
}

// ValidateArgs checks args against the tool's compact schema: required
// properties present, no unknown properties, values type-compatible.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}

	for _, req := range t.Required {
		if _, present := args[req]; !present {
			return fmt.Errorf("missing required arg %q", req)
		}
	}

	for k, v := range args {
		want, declared := t.ArgSchema[k]
		if !declared {
			return fmt.Errorf("unknown arg %q", k)
		}
		wantType, isString := want.(string)
		if !isString {
			continue
		}
		if err := checkType(k, wantType, v); err != nil {
			return err
		}
	}

	if t.Validate != nil {
		return t.Validate(args)
	}
	return nil
}

func checkType(key, want string, v any) error {
	switch want {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("arg %q must be a string", key)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("arg %q must be a boolean", key)
		}
	case "number", "integer":
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("arg %q must be a number", key)
		}
	}
	return nil
}

// Execute validates args then runs the tool. All failures come back as a
// classified *Error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, *Error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, Errf(intent.ErrInvalidArgument, "unknown tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return nil, Errf(intent.ErrInvalidArgument, "%v", err)
	}
	return t.Run(ctx, args)
}

// numArg reads a numeric arg, tolerating JSON float64 and native ints.
func numArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func strArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}
