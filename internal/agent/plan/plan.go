// Package plan defines the structured output each agent must produce. A plan
// is data only: it names the mutations to make, and apply turns each entry
// into one write-tool call.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Plan is a decoded, validated agent output.
type Plan interface {
	Validate() error
	Summary() Summary
	// Steps lists the write-tool calls that apply the plan, in order.
	Steps() []Step
}

// Write tool names, shared with the tool registry.
const (
	ToolCreateTask    = "create_task"
	ToolUpdateTask    = "update_task"
	ToolSetTaskStatus = "set_task_status"
	ToolDeleteTask    = "delete_task"
	ToolCreateNote    = "create_note"
	ToolUpdateNote    = "update_note"
	ToolDeleteNote    = "delete_note"
	ToolCreateEvent   = "create_event"
	ToolUpdateEvent   = "update_event"
	ToolDeleteEvent   = "delete_event"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Step is one write-tool invocation.
type Step struct {
	Action Action
	Entity string
	Tool   string
	Input  any
	// Ref is the entity id, or the clientRequestId for creates.
	Ref string
}

// Summary is what a user sees before confirming. Status changes count as
// updates.
type Summary struct {
	Creates int           `json:"creates"`
	Updates int           `json:"updates"`
	Deletes int           `json:"deletes"`
	Items   []SummaryItem `json:"items"`
}

type SummaryItem struct {
	Action Action `json:"action"`
	Entity string `json:"entity"`
	Ref    string `json:"ref"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Summary) add(item SummaryItem) {
	switch item.Action {
	case ActionCreate:
		s.Creates++
	case ActionUpdate:
		s.Updates++
	case ActionDelete:
		s.Deletes++
	}
	s.Items = append(s.Items, item)
}

// MaxEntries bounds each list in a plan.
const MaxEntries = 50

// Issue is one validation failure at a JSON path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError collects every issue found in one pass.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, is.Path+": "+is.Message)
	}
	return "invalid plan: " + strings.Join(parts, "; ")
}

type validator struct {
	issues []Issue
}

func (v *validator) check(ok bool, path, format string, args ...any) {
	if !ok {
		v.issues = append(v.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
}

func (v *validator) err() error {
	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: v.issues}
}

func join(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func index(prefix string, i int) string {
	return fmt.Sprintf("%s[%d]", prefix, i)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func (v *validator) requireText(s, path string) {
	v.check(!blank(s), path, "is required")
}

func (v *validator) optionalText(s *string, path string) {
	if s != nil {
		v.check(!blank(*s), path, "must not be empty when present")
	}
}

func (v *validator) listLen(n int, path string) {
	v.check(n <= MaxEntries, path, "at most %d entries allowed", MaxEntries)
}

// uniqueRequestIDs flags empty and repeated clientRequestIds.
func (v *validator) uniqueRequestIDs(ids []string, path string) {
	seen := map[string]int{}
	for i, id := range ids {
		p := join(index(path, i), "clientRequestId")
		if blank(id) {
			v.check(false, p, "is required")
			continue
		}
		if first, ok := seen[id]; ok {
			v.check(false, p, "duplicates %s", join(index(path, first), "clientRequestId"))
			continue
		}
		seen[id] = i
	}
}

func (v *validator) dangerous(ok bool, reason, path string) {
	v.check(ok, join(path, "dangerous"), "must be true to delete")
	v.requireText(reason, join(path, "reason"))
}

// DecodeStrict decodes exactly one JSON value into v, rejecting unknown
// fields and trailing data.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func decode[P interface {
	*T
	Plan
	normalize()
}, T any](data []byte) (Plan, error) {
	p := P(new(T))
	if err := DecodeStrict(data, p); err != nil {
		return nil, err
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
