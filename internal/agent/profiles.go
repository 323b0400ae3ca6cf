package agent

import (
	"kairos/internal/agent/plan"
	"kairos/internal/agent/tools"
)

var sharedRules = []string{
	"You are read-only while drafting: describe changes, never claim to have made them.",
	"Never invent projects, tasks, notes or events that are not in the context.",
	"Keep the plan minimal: only what the request asks for.",
}

func rules(extra ...string) []string {
	return append(append([]string{}, sharedRules...), extra...)
}

// TasksProfile plans task changes.
func TasksProfile() Profile {
	return Profile{
		ID:          "tasks",
		Name:        "Task Planner",
		Description: "Turns requests into task creations, edits, status changes and deletions.",
		Rules: rules(
			"Prefer updating an existing task over creating a near-duplicate.",
			"Use statusChanges, not updates, to move a task between statuses.",
		),
		OutputShape: plan.TaskPlanShape,
		Decode:      plan.DecodeTaskPlan,
		ReadTools:   tools.NewSet(tools.ListProjects, tools.ListTasks, tools.GetTask, tools.ListNotifications),
		ApplyTools:  tools.NewSet(plan.ToolCreateTask, plan.ToolUpdateTask, plan.ToolSetTaskStatus, plan.ToolDeleteTask),
	}
}

// NotesProfile plans note changes.
func NotesProfile() Profile {
	return Profile{
		ID:          "notes",
		Name:        "Note Keeper",
		Description: "Captures, edits and removes notes.",
		Rules: rules(
			"Append to an existing note when the request extends it.",
		),
		OutputShape: plan.NotePlanShape,
		Decode:      plan.DecodeNotePlan,
		ReadTools:   tools.NewSet(tools.ListProjects, tools.ListNotes),
		ApplyTools:  tools.NewSet(plan.ToolCreateNote, plan.ToolUpdateNote, plan.ToolDeleteNote),
	}
}

// CalendarProfile plans calendar changes.
func CalendarProfile() Profile {
	return Profile{
		ID:          "calendar",
		Name:        "Scheduler",
		Description: "Schedules, moves and cancels calendar events.",
		Rules: rules(
			"Avoid overlapping an event already in the context unless asked.",
			"Use the user's stated time zone offset in startsAt and endsAt when given.",
		),
		OutputShape: plan.CalendarPlanShape,
		Decode:      plan.DecodeCalendarPlan,
		ReadTools:   tools.NewSet(tools.ListProjects, tools.ListEvents, tools.ListTasks),
		ApplyTools:  tools.NewSet(plan.ToolCreateEvent, plan.ToolUpdateEvent, plan.ToolDeleteEvent),
	}
}

// DefaultCatalog holds the built-in agents.
func DefaultCatalog(reg *tools.Registry) (*Catalog, error) {
	return NewCatalog(reg, TasksProfile(), NotesProfile(), CalendarProfile())
}
