package plan

import (
	"time"
)

const dateLayout = "2006-01-02"

var (
	taskPriorities = map[string]bool{"low": true, "medium": true, "high": true}
	taskStatuses   = map[string]bool{"todo": true, "in_progress": true, "done": true, "canceled": true}
)

type TaskCreate struct {
	ClientRequestID string `json:"clientRequestId"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	Priority        string `json:"priority,omitempty"`
	DueDate         string `json:"dueDate,omitempty"`
}

func (c TaskCreate) Validate() error {
	var v validator
	v.requireText(c.ClientRequestID, "clientRequestId")
	c.validate(&v, "")
	return v.err()
}

func (c TaskCreate) validate(v *validator, path string) {
	v.requireText(c.Title, join(path, "title"))
	if c.Priority != "" {
		v.check(taskPriorities[c.Priority], join(path, "priority"), "must be low, medium or high")
	}
	if c.DueDate != "" {
		v.check(validDate(c.DueDate), join(path, "dueDate"), "must be YYYY-MM-DD")
	}
}

type TaskUpdate struct {
	TaskID      string  `json:"taskId"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DueDate     *string `json:"dueDate,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

func (u TaskUpdate) Validate() error {
	var v validator
	u.validate(&v, "")
	return v.err()
}

func (u TaskUpdate) validate(v *validator, path string) {
	v.requireText(u.TaskID, join(path, "taskId"))
	v.check(u.Title != nil || u.Description != nil || u.Priority != nil || u.DueDate != nil,
		path, "update must change at least one field")
	v.optionalText(u.Title, join(path, "title"))
	if u.Priority != nil {
		v.check(taskPriorities[*u.Priority], join(path, "priority"), "must be low, medium or high")
	}
	if u.DueDate != nil && *u.DueDate != "" {
		v.check(validDate(*u.DueDate), join(path, "dueDate"), "must be YYYY-MM-DD")
	}
}

type TaskStatusChange struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s TaskStatusChange) Validate() error {
	var v validator
	s.validate(&v, "")
	return v.err()
}

func (s TaskStatusChange) validate(v *validator, path string) {
	v.requireText(s.TaskID, join(path, "taskId"))
	v.check(taskStatuses[s.Status], join(path, "status"), "must be todo, in_progress, done or canceled")
	v.requireText(s.Reason, join(path, "reason"))
}

type TaskDelete struct {
	TaskID    string `json:"taskId"`
	Reason    string `json:"reason"`
	Dangerous bool   `json:"dangerous"`
}

func (d TaskDelete) Validate() error {
	var v validator
	d.validate(&v, "")
	return v.err()
}

func (d TaskDelete) validate(v *validator, path string) {
	v.requireText(d.TaskID, join(path, "taskId"))
	v.dangerous(d.Dangerous, d.Reason, path)
}

// TaskPlan is the output of the tasks agent.
type TaskPlan struct {
	Creates       []TaskCreate       `json:"creates"`
	Updates       []TaskUpdate       `json:"updates"`
	StatusChanges []TaskStatusChange `json:"statusChanges"`
	Deletes       []TaskDelete       `json:"deletes"`
}

// DecodeTaskPlan strictly decodes and validates a tasks-agent plan.
func DecodeTaskPlan(data []byte) (Plan, error) {
	return decode[*TaskPlan](data)
}

func (p *TaskPlan) normalize() {
	p.Creates = orEmpty(p.Creates)
	p.Updates = orEmpty(p.Updates)
	p.StatusChanges = orEmpty(p.StatusChanges)
	p.Deletes = orEmpty(p.Deletes)
}

func (p *TaskPlan) Validate() error {
	var v validator
	v.listLen(len(p.Creates), "creates")
	v.listLen(len(p.Updates), "updates")
	v.listLen(len(p.StatusChanges), "statusChanges")
	v.listLen(len(p.Deletes), "deletes")
	ids := make([]string, len(p.Creates))
	for i, c := range p.Creates {
		ids[i] = c.ClientRequestID
		c.validate(&v, index("creates", i))
	}
	v.uniqueRequestIDs(ids, "creates")
	for i, u := range p.Updates {
		u.validate(&v, index("updates", i))
	}
	for i, s := range p.StatusChanges {
		s.validate(&v, index("statusChanges", i))
	}
	for i, d := range p.Deletes {
		d.validate(&v, index("deletes", i))
	}
	return v.err()
}

func (p *TaskPlan) Summary() Summary {
	s := Summary{Items: []SummaryItem{}}
	for _, c := range p.Creates {
		s.add(SummaryItem{Action: ActionCreate, Entity: "task", Ref: c.ClientRequestID, Title: c.Title})
	}
	for _, u := range p.Updates {
		s.add(SummaryItem{Action: ActionUpdate, Entity: "task", Ref: u.TaskID, Title: deref(u.Title), Detail: u.Reason})
	}
	for _, c := range p.StatusChanges {
		s.add(SummaryItem{Action: ActionUpdate, Entity: "task", Ref: c.TaskID, Detail: "status -> " + c.Status + ": " + c.Reason})
	}
	for _, d := range p.Deletes {
		s.add(SummaryItem{Action: ActionDelete, Entity: "task", Ref: d.TaskID, Detail: d.Reason})
	}
	return s
}

func (p *TaskPlan) Steps() []Step {
	var steps []Step
	for _, c := range p.Creates {
		steps = append(steps, Step{Action: ActionCreate, Entity: "task", Tool: ToolCreateTask, Input: c, Ref: c.ClientRequestID})
	}
	for _, u := range p.Updates {
		steps = append(steps, Step{Action: ActionUpdate, Entity: "task", Tool: ToolUpdateTask, Input: u, Ref: u.TaskID})
	}
	for _, c := range p.StatusChanges {
		steps = append(steps, Step{Action: ActionUpdate, Entity: "task", Tool: ToolSetTaskStatus, Input: c, Ref: c.TaskID})
	}
	for _, d := range p.Deletes {
		steps = append(steps, Step{Action: ActionDelete, Entity: "task", Tool: ToolDeleteTask, Input: d, Ref: d.TaskID})
	}
	return steps
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// TaskPlanShape documents the tasks-agent output for the system prompt.
const TaskPlanShape = `{
  "creates": [
    {"clientRequestId": "string, unique within this plan", "title": "string",
     "description": "string (optional)", "projectId": "string (optional)",
     "priority": "low | medium | high (optional)", "dueDate": "YYYY-MM-DD (optional)"}
  ],
  "updates": [
    {"taskId": "string, an id from the context", "title": "string (optional)",
     "description": "string (optional)", "priority": "low | medium | high (optional)",
     "dueDate": "YYYY-MM-DD (optional)", "reason": "string (optional)"}
  ],
  "statusChanges": [
    {"taskId": "string, an id from the context", "status": "todo | in_progress | done | canceled",
     "reason": "string"}
  ],
  "deletes": [
    {"taskId": "string, an id from the context", "reason": "string", "dangerous": true}
  ]
}`
