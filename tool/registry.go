package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/youssefsiam38/pattern/model"
)

// Registry manages tools and exposes them as vendor-agnostic model.ToolSpec
// values, so the engine can hand them to whichever model.Provider it's
// configured with rather than a fixed Anthropic SDK shape.
type Registry struct {
	tools     map[string]Tool
	validator *SchemaValidator
	mu        sync.RWMutex
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		validator: NewSchemaValidator(),
	}
}

// Register adds a tool to the registry, compiling its JSON schema up front
// so a malformed schema fails at registration time, not at first call.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	schema := t.InputSchema()
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	if err := r.validator.Compile(name, schema); err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = t
	return nil
}

// RegisterAll adds multiple tools to the registry.
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToolSpecs converts every registered tool to a model.ToolSpec, ready to
// attach to a model.Request.
func (r *Registry) ToolSpecs() []model.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]model.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		schema := t.InputSchema()
		specs = append(specs, model.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema.ToJSON(),
		})
	}
	return specs
}

// Validate checks input against both the registered tool's hand-rolled
// PropertyDef checks and its compiled JSON-schema document, failing on
// whichever catches the problem first.
func (r *Registry) Validate(toolName string, input json.RawMessage) error {
	t, exists := r.Get(toolName)
	if !exists {
		return fmt.Errorf("tool not found: %s", toolName)
	}
	if err := NewValidator().ValidateInput(t.InputSchema(), input); err != nil {
		return err
	}
	return r.validator.Validate(toolName, input)
}

// Execute validates then dispatches a tool call by name.
func (r *Registry) Execute(ctx context.Context, toolName string, input json.RawMessage) (string, error) {
	t, exists := r.Get(toolName)
	if !exists {
		return "", fmt.Errorf("tool not found: %s", toolName)
	}

	if err := r.Validate(toolName, input); err != nil {
		return "", err
	}

	return t.Execute(ctx, input)
}
