package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketsage/pocketsage/internal/llm"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamType is the primitive type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param describes one named field of a tool's parameter contract.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Descriptor is the declarative definition of a tool: a stable name, a
// natural-language description the model uses to decide applicability, and
// an ordered parameter contract.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the descriptor's parameter contract as a JSON Schema
// object document, preserving declaration order of the properties. The same
// document is sent to the model and used for dispatcher-side validation, so
// the two can never drift.
func (d Descriptor) Schema() json.RawMessage {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, p := range d.Params {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, p.Name)
		buf.WriteString(`:{"type":`)
		writeJSON(&buf, string(p.Type))
		if p.Description != "" {
			buf.WriteString(`,"description":`)
			writeJSON(&buf, p.Description)
		}
		if len(p.Enum) > 0 {
			buf.WriteString(`,"enum":`)
			writeJSON(&buf, p.Enum)
		}
		buf.WriteByte('}')
	}
	buf.WriteString(`},"required":[`)
	first := true
	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		writeJSON(&buf, p.Name)
		first = false
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

func writeJSON(buf *bytes.Buffer, v any) {
	data, _ := json.Marshal(v)
	buf.Write(data)
}

// Handler executes a schema-valid tool call for one user. args holds the
// decoded argument object; values match the declared parameter types.
type Handler func(ctx context.Context, userID string, args map[string]any) (any, error)

// Tool couples a descriptor with its handler. MutableFields, when non-empty,
// marks an update-style tool: a call supplying none of the listed fields is
// rejected before the handler runs.
type Tool struct {
	Descriptor
	Handler       Handler
	MutableFields []string
}

type registeredTool struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry is the static catalog of tools. It is built once at startup and
// immutable afterwards; lookups are read-only and safe for concurrent use.
type Registry struct {
	tools map[string]*registeredTool
	order []string
}

// NewRegistry compiles each tool's parameter schema and builds the catalog.
// Duplicate names and uncompilable schemas are construction errors.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*registeredTool, len(tools))}
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name %s", tool.Name)
		}
		compiled, err := jsonschema.CompileString(tool.Name+".schema.json", string(tool.Schema()))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		r.tools[tool.Name] = &registeredTool{tool: tool, compiled: compiled}
		r.order = append(r.order, tool.Name)
	}
	return r, nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	rt, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return rt.tool, true
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Specs serializes the catalog for the model gateway.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name].tool
		out = append(out, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Schema(),
		})
	}
	return out
}

func (r *Registry) compiledSchema(name string) (*jsonschema.Schema, bool) {
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.compiled, true
}
