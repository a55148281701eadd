package tools

import (
	"github.com/tmc/langchaingo/tools"
)

// Definition is a function tool declaration in the Responses API shape.
type Definition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Parameterized is implemented by tools that publish a JSON schema for their
// arguments. Tools without one are advertised with an empty object schema.
type Parameterized interface {
	Parameters() map[string]any
}

// Dispatcher resolves tool-call names to executable tools.
// It is built per turn and never mutated afterwards.
type Dispatcher struct {
	byName map[string]tools.Tool
	order  []string
}

// NewDispatcher registers the given tools. A later tool with the same name
// replaces an earlier one.
func NewDispatcher(toolList ...tools.Tool) *Dispatcher {
	d := &Dispatcher{byName: make(map[string]tools.Tool, len(toolList))}
	for _, tool := range toolList {
		if tool == nil {
			continue
		}
		name := tool.Name()
		if _, exists := d.byName[name]; !exists {
			d.order = append(d.order, name)
		}
		d.byName[name] = tool
	}
	return d
}

// Lookup returns the tool registered under name.
func (d *Dispatcher) Lookup(name string) (tools.Tool, bool) {
	if d == nil {
		return nil, false
	}
	tool, ok := d.byName[name]
	return tool, ok
}

// Len reports how many tools are registered.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.order)
}

// Definitions returns the declarations of every registered tool in
// registration order.
func (d *Dispatcher) Definitions() []Definition {
	if d == nil {
		return nil
	}
	defs := make([]Definition, 0, len(d.order))
	for _, name := range d.order {
		tool := d.byName[name]
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if p, ok := tool.(Parameterized); ok {
			params = p.Parameters()
		}
		defs = append(defs, Definition{
			Type:        "function",
			Name:        name,
			Description: tool.Description(),
			Parameters:  params,
		})
	}
	return defs
}
