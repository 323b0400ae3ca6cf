package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"kairos/internal/apperr"
)

// Registry holds tools by name. It is immutable after construction.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name() == "" {
			return nil, errors.New("tool without a name")
		}
		if t.Phase() != PhaseRead && t.Phase() != PhaseWrite {
			return nil, fmt.Errorf("tool %s has unknown phase %q", t.Name(), t.Phase())
		}
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("tool %s registered twice", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists tools of a phase, sorted.
func (r *Registry) Names(phase Phase) []string {
	var out []string
	for name, t := range r.tools {
		if t.Phase() == phase {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Execute runs the named tool if it is allowed and belongs to phase. input is
// any JSON-marshalable value; it is decoded again into the tool's own input
// type, so no caller-built value reaches a tool unchecked.
func (r *Registry) Execute(ctx context.Context, env Env, phase Phase, allowed Set, name string, input any) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, apperr.New(apperr.ToolNotAllowed, "unknown tool %s", name)
	}
	if !allowed.Has(name) {
		return Result{}, apperr.New(apperr.ToolNotAllowed, "tool %s is not allowed here", name)
	}
	if t.Phase() != phase {
		return Result{}, apperr.New(apperr.ToolNotAllowed, "tool %s cannot run in the %s phase", name, phase)
	}
	if phase == PhaseWrite && env.Tx == nil {
		return Result{}, fmt.Errorf("write tool %s called without a transaction", name)
	}
	raw, err := marshalInput(input)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.InvalidInput, err, "invalid input for %s", name)
	}
	return t.Invoke(ctx, env, raw)
}

func marshalInput(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	return json.Marshal(input)
}
