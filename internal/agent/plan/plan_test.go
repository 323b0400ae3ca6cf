package plan

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "want *ValidationError, got %v", err)
	var paths []string
	for _, is := range verr.Issues {
		paths = append(paths, is.Path)
	}
	return paths
}

func TestDecodeTaskPlanValid(t *testing.T) {
	p, err := DecodeTaskPlan([]byte(`{
		"creates": [{"clientRequestId": "c1", "title": "Draft agenda", "priority": "high", "dueDate": "2025-03-04"}],
		"statusChanges": [{"taskId": "t1", "status": "done", "reason": "finished"}],
		"deletes": [{"taskId": "t2", "reason": "duplicate", "dangerous": true}]
	}`))
	require.NoError(t, err)
	tp := p.(*TaskPlan)
	assert.NotNil(t, tp.Updates, "missing sections decode as empty lists")

	want := Summary{
		Creates: 1, Updates: 1, Deletes: 1,
		Items: []SummaryItem{
			{Action: ActionCreate, Entity: "task", Ref: "c1", Title: "Draft agenda"},
			{Action: ActionUpdate, Entity: "task", Ref: "t1", Detail: "status -> done: finished"},
			{Action: ActionDelete, Entity: "task", Ref: "t2", Detail: "duplicate"},
		},
	}
	if diff := cmp.Diff(want, p.Summary()); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	var tools []string
	for _, s := range p.Steps() {
		tools = append(tools, s.Tool)
	}
	assert.Equal(t, []string{ToolCreateTask, ToolSetTaskStatus, ToolDeleteTask}, tools)
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	_, err := DecodeTaskPlan([]byte(`{"creates": [], "explanation": "sure!"}`))
	assert.Error(t, err)
	_, err = DecodeTaskPlan([]byte(`{"creates": []} trailing`))
	assert.Error(t, err)
	_, err = DecodeNotePlan([]byte(`{"creates": [{"clientRequestId": "a", "title": "t", "body": "b", "color": "red"}]}`))
	assert.Error(t, err)
}

func TestTaskPlanValidationIssues(t *testing.T) {
	_, err := DecodeTaskPlan([]byte(`{
		"creates": [
			{"clientRequestId": "dup", "title": "a"},
			{"clientRequestId": "dup", "title": ""},
			{"clientRequestId": "", "title": "c", "priority": "urgent", "dueDate": "tomorrow"}
		],
		"updates": [{"taskId": "t1"}],
		"statusChanges": [{"taskId": "t1", "status": "blocked", "reason": ""}],
		"deletes": [{"taskId": "t3", "reason": "", "dangerous": false}]
	}`))
	assert.ElementsMatch(t, []string{
		"creates[1].title",
		"creates[2].priority",
		"creates[2].dueDate",
		"creates[1].clientRequestId",
		"creates[2].clientRequestId",
		"updates[0]",
		"statusChanges[0].status",
		"statusChanges[0].reason",
		"deletes[0].dangerous",
		"deletes[0].reason",
	}, issuePaths(t, err))
}

func TestCalendarPlanRequiresOrderedWindow(t *testing.T) {
	_, err := DecodeCalendarPlan([]byte(`{"creates": [
		{"clientRequestId": "e1", "title": "Sync", "startsAt": "2025-03-02T10:00:00Z", "endsAt": "2025-03-02T10:00:00Z"},
		{"clientRequestId": "e2", "title": "Lunch", "startsAt": "noon", "endsAt": "2025-03-02T13:00:00Z"}
	]}`))
	assert.ElementsMatch(t, []string{"creates[0].endsAt", "creates[1].startsAt"}, issuePaths(t, err))

	p, err := DecodeCalendarPlan([]byte(`{"updates": [{"eventId": "ev1", "location": "Room 4"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Summary().Updates)
}

func TestPlanListLengthBounded(t *testing.T) {
	p := &NotePlan{}
	for i := 0; i <= MaxEntries; i++ {
		p.Deletes = append(p.Deletes, NoteDelete{NoteID: "n", Reason: "r", Dangerous: true})
	}
	assert.Contains(t, issuePaths(t, p.Validate()), "deletes")
}

func TestEntryValidateForToolInput(t *testing.T) {
	assert.Error(t, TaskCreate{Title: "no request id"}.Validate())
	assert.NoError(t, TaskCreate{ClientRequestID: "x", Title: "ok"}.Validate())
	title := ""
	assert.Error(t, NoteUpdate{NoteID: "n", Title: &title}.Validate())
	assert.Error(t, EventDelete{EventID: "e", Reason: "gone"}.Validate())
}

func TestDecodeStrict(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, DecodeStrict([]byte(` {"a": 1} `), &v))
	assert.Equal(t, 1, v.A)
	assert.Error(t, DecodeStrict([]byte(`{"a": 1, "b": 2}`), &v))
	assert.Error(t, DecodeStrict([]byte(`{"a": 1}{"a": 2}`), &v))
}
