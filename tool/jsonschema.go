package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator compiles each registered tool's ToolSchema into a full
// JSON-schema document and validates calls against it. It runs in addition
// to Validator's hand-rolled PropertyDef walk: Validator catches the common
// cases cheaply and with tool-call-shaped error messages, this enforces the
// constraints ToolSchema.ToJSON emits that the walk does not check (pattern,
// exclusiveMinimum/exclusiveMaximum, minItems/maxItems, and the required
// list of nested objects). ToolSchema/PropertyDef cannot express oneOf/anyOf,
// additionalProperties or format, so compiled documents never contain them.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Compile builds and caches a jsonschema.Schema for toolName from schema's
// JSON representation. Called once at Registry.Register time so a bad
// schema is rejected before any call ever reaches it.
func (v *SchemaValidator) Compile(toolName string, schema ToolSchema) error {
	raw, err := json.Marshal(schema.ToJSON())
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", toolName, err)
	}

	url := "mem://" + toolName + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	v.mu.Lock()
	v.compiled[toolName] = compiled
	v.mu.Unlock()

	return nil
}

// Validate checks input against the compiled schema for toolName. A tool
// with no compiled schema (never registered through Compile) passes
// trivially rather than erroring, since Registry.Register always compiles
// before a tool becomes callable.
func (v *SchemaValidator) Validate(toolName string, input json.RawMessage) error {
	v.mu.RLock()
	compiled, ok := v.compiled[toolName]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", toolName, err)
	}

	return nil
}
