// Package tools is the registry of named operations an agent may trigger.
// Read tools run while a draft is being built and never mutate; write tools
// run only during apply, inside the apply transaction.
package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"kairos/internal/agent/plan"
	"kairos/internal/apperr"
	"kairos/internal/domain"
)

type Phase string

const (
	PhaseRead  Phase = "read"
	PhaseWrite Phase = "write"
)

// Set is an allow-list of tool names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Env is what a tool sees of the request. Tx is set only in the write phase.
type Env struct {
	Session domain.Session
	Scope   domain.Scope
	// DraftID namespaces create idempotency keys when set.
	DraftID string
	Tx      *sql.Tx
	// Limit bounds list results; zero means the tool's default.
	Limit int
}

// Result is a tool's output. Write tools name the entity they touched and the
// apply-result key it is reported under.
type Result struct {
	EntityKind string
	EntityID   string
	ResultKey  string
	Data       any
}

type Tool interface {
	Name() string
	Description() string
	Phase() Phase
	// ContextKey names the context-pack section a read tool fills, or "".
	ContextKey() string
	Invoke(ctx context.Context, env Env, input json.RawMessage) (Result, error)
}

// Spec declares a tool whose input decodes into In.
type Spec[In any] struct {
	Name        string
	Description string
	Phase       Phase
	ContextKey  string
	Run         func(ctx context.Context, env Env, in In) (Result, error)
}

type validatable interface {
	Validate() error
}

type typedTool[In any] struct {
	spec Spec[In]
}

// Define builds a Tool from a Spec.
func Define[In any](s Spec[In]) Tool {
	return typedTool[In]{spec: s}
}

func (t typedTool[In]) Name() string        { return t.spec.Name }
func (t typedTool[In]) Description() string { return t.spec.Description }
func (t typedTool[In]) Phase() Phase        { return t.spec.Phase }
func (t typedTool[In]) ContextKey() string  { return t.spec.ContextKey }

// Invoke decodes input strictly, validates it when In knows how, and runs.
func (t typedTool[In]) Invoke(ctx context.Context, env Env, input json.RawMessage) (Result, error) {
	var in In
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := plan.DecodeStrict(input, &in); err != nil {
		return Result{}, apperr.Wrap(apperr.InvalidInput, err, "invalid input for %s: %v", t.spec.Name, err)
	}
	if v, ok := any(in).(validatable); ok {
		if err := v.Validate(); err != nil {
			return Result{}, apperr.Wrap(apperr.InvalidInput, err, "invalid input for %s: %v", t.spec.Name, err)
		}
	}
	return t.spec.Run(ctx, env, in)
}

// RequestKey is the idempotency key a create stores for clientRequestID.
// Keys from one draft never match creates from another.
func (env Env) RequestKey(clientRequestID string) string {
	if env.DraftID == "" || clientRequestID == "" {
		return clientRequestID
	}
	return env.DraftID + "/" + clientRequestID
}
