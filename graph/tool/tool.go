// Package tool defines the contract for functions a model may call during a
// workflow, and a registry that dispatches model tool calls to them.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dshills/llm-workflows/graph/model"
)

// Tool is an executable function exposed to a model.
//
// Call must respect ctx cancellation and validate its own input; the model
// is not trusted to follow the schema.
type Tool interface {
	// Name must match the ToolSpec name the model sees.
	Name() string

	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Described is implemented by tools that publish their own ToolSpec.
type Described interface {
	Tool
	Spec() model.ToolSpec
}

// Registry maps tool names to tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry registers tools by name. A duplicate name is an error.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return nil, fmt.Errorf("tool: registry entries need a name")
		}
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("tool: duplicate tool %q", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

// Specs returns the specs of every Described tool, sorted by name. Tools
// without a spec are advertised with their name only.
func (r *Registry) Specs() []model.ToolSpec {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]model.ToolSpec, 0, len(names))
	for _, name := range names {
		if d, ok := r.tools[name].(Described); ok {
			specs = append(specs, d.Spec())
			continue
		}
		specs = append(specs, model.ToolSpec{Name: name})
	}
	return specs
}

// Dispatch executes one tool call requested by the model and returns the
// tool turn answering it.
//
// An unknown tool or a failing call is reported back to the model as the
// turn's content rather than aborting the run, so the model can correct
// itself. Only context cancellation is returned as an error.
func (r *Registry) Dispatch(ctx context.Context, call model.ToolCall) (model.Message, error) {
	reply := model.Message{Role: model.RoleTool, ToolCallID: call.ID}
	if reply.ToolCallID == "" {
		reply.ToolCallID = call.Name
	}

	t, ok := r.tools[call.Name]
	if !ok {
		reply.Content = fmt.Sprintf("error: unknown tool %q", call.Name)
		return reply, nil
	}

	out, err := t.Call(ctx, call.Input)
	if err != nil {
		if ctx.Err() != nil {
			return model.Message{}, ctx.Err()
		}
		reply.Content = "error: " + err.Error()
		return reply, nil
	}

	reply.Content = renderOutput(out)
	return reply, nil
}

// renderOutput returns the "result" string when a tool produced one, and
// the JSON encoding of the whole output otherwise.
func renderOutput(out map[string]interface{}) string {
	if s, ok := out["result"].(string); ok && len(out) == 1 {
		return s
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(b)
}
