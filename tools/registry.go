// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Tool lifecycle management hidden
// - Registration and discovery mechanisms abstracted

package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Registry is a flat, ordered sequence of tools — the sequence is the
// policy. Dispatch (FindTool) is a linear, case-sensitive, first-match
// scan, so registration order matters when names collide.
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, tool)
	return nil
}

// FindTool performs a linear, case-sensitive scan and returns the first
// tool whose name matches, or false if none does.
func (r *Registry) FindTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if t.Metadata().Name == name {
			return t, true
		}
	}
	return nil, false
}

// Get is an alias for FindTool, kept for callers used to map-style lookup.
func (r *Registry) Get(name string) (Tool, bool) { return r.FindTool(name) }

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.FindTool(name)
	return ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Metadata().Name)
	}
	return names
}

// List returns metadata for all registered tools, in registration order.
func (r *Registry) List() []ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]ToolMetadata, 0, len(r.tools))
	for _, t := range r.tools {
		metadata = append(metadata, t.Metadata())
	}
	return metadata
}

// APITool is the wire form of a tool definition: name, description, and a
// JSON Schema for its input, with the handler dropped. Field names are
// snake_case, matching the model provider wire contract.
type APITool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ExportForAPI maps the registry's tools to their wire form, in
// registration order.
func (r *Registry) ExportForAPI() []APITool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]APITool, 0, len(r.tools))
	for _, t := range r.tools {
		meta := t.Metadata()
		out = append(out, APITool{
			Name:        meta.Name,
			Description: meta.Description,
			InputSchema: parametersToJSONSchema(meta.Parameters),
		})
	}
	return out
}

func parametersToJSONSchema(params []ToolParameter) json.RawMessage {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.ParamType == "array" && p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// Description returns a formatted description of all tools for LLM prompts.
func (r *Registry) Description() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var descriptions []string
	for _, tool := range r.tools {
		meta := tool.Metadata()
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		paramStr := strings.Join(params, "\n")
		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			meta.Name, meta.Description, paramStr))
	}

	return strings.Join(descriptions, "\n\n")
}

// Default timeout and file size constants for tools.
const (
	DefaultToolTimeout = 30          // seconds
	DefaultMaxFileSize = 1024 * 1024 // 1MB
)

// WithDefaults creates a registry with the default host tool set, wired
// with fileOps so filesystem tools report their side effects.
func WithDefaults(fileOps FileOpsRecorder) (*Registry, error) {
	registry := NewRegistry()

	toolSet := []Tool{
		NewBashTool(DefaultToolTimeout),
		NewShellTool(DefaultToolTimeout),
		NewReadFileTool(DefaultMaxFileSize).WithFileOps(fileOps),
		NewWriteFileTool(DefaultMaxFileSize).WithFileOps(fileOps),
		NewEditFileTool(DefaultMaxFileSize).WithFileOps(fileOps),
		NewAppendFileTool(DefaultMaxFileSize).WithFileOps(fileOps),
		NewHTTPTool(DefaultToolTimeout),
		NewRipgrepTool(DefaultToolTimeout),
		NewGlobTool(DefaultGlobMaxResults),
	}

	for _, t := range toolSet {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register default tools: %w", err)
		}
	}

	return registry, nil
}
