package tools

import (
	"context"
	"time"

	"kairos/internal/agent/plan"
	"kairos/internal/apperr"
	"kairos/internal/engine"
	"kairos/internal/repo"
)

// Read tool names.
const (
	ListProjects      = "list_projects"
	ListTasks         = "list_tasks"
	GetTask           = "get_task"
	ListNotes         = "list_notes"
	ListEvents        = "list_events"
	ListNotifications = "list_notifications"
)

// Context-pack sections filled by read tools.
const (
	SectionProjects      = "projects"
	SectionTasks         = "tasks"
	SectionNotes         = "notes"
	SectionEvents        = "events"
	SectionNotifications = "notifications"
)

// ListInput is the input of every list tool. ProjectID narrows to one
// project; when empty the scope's project, if any, applies.
type ListInput struct {
	ProjectID string `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type GetTaskInput struct {
	TaskID string `json:"taskId"`
}

func (in GetTaskInput) Validate() error {
	if in.TaskID == "" {
		return apperr.New(apperr.InvalidInput, "taskId is required")
	}
	return nil
}

const defaultLimit = 20

func (in ListInput) resolve(env Env) (projectID string, limit int) {
	projectID = in.ProjectID
	if projectID == "" {
		projectID = env.Scope.ProjectID
	}
	limit = in.Limit
	if limit <= 0 || (env.Limit > 0 && limit > env.Limit) {
		limit = env.Limit
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return projectID, limit
}

// Builtin returns the registry of every read and write tool, backed by eng.
func Builtin(eng engine.Engine) (*Registry, error) {
	r := eng.Repo
	return NewRegistry(
		Define(Spec[ListInput]{
			Name:        ListProjects,
			Description: "Projects the user owns or collaborates on.",
			Phase:       PhaseRead,
			ContextKey:  SectionProjects,
			Run: func(ctx context.Context, env Env, in ListInput) (Result, error) {
				_, limit := in.resolve(env)
				projects, err := r.ListProjects(ctx, env.Tx, repo.ProjectFilters{UserID: env.Session.UserID, OrgID: env.Scope.OrganizationID, Limit: limit})
				if err != nil {
					return Result{}, err
				}
				views := make([]ProjectView, 0, len(projects))
				for _, p := range projects {
					role, err := r.ProjectRole(ctx, env.Tx, p.ID, env.Session.UserID)
					if err != nil {
						return Result{}, err
					}
					counts, err := r.CountTasksByStatus(ctx, env.Tx, p.ID)
					if err != nil {
						return Result{}, err
					}
					views = append(views, projectView(p, role, counts))
				}
				return Result{EntityKind: "project", Data: views}, nil
			},
		}),
		Define(Spec[ListInput]{
			Name:        ListTasks,
			Description: "Visible tasks, open work first.",
			Phase:       PhaseRead,
			ContextKey:  SectionTasks,
			Run: func(ctx context.Context, env Env, in ListInput) (Result, error) {
				projectID, limit := in.resolve(env)
				tasks, err := r.ListTasks(ctx, env.Tx, repo.TaskFilters{UserID: env.Session.UserID, ProjectID: projectID, Limit: limit})
				if err != nil {
					return Result{}, err
				}
				views := make([]TaskView, 0, len(tasks))
				for _, t := range tasks {
					views = append(views, taskView(t))
				}
				return Result{EntityKind: "task", Data: views}, nil
			},
		}),
		Define(Spec[GetTaskInput]{
			Name:        GetTask,
			Description: "One task by id.",
			Phase:       PhaseRead,
			Run: func(ctx context.Context, env Env, in GetTaskInput) (Result, error) {
				t, err := eng.GetTask(ctx, env.Tx, in.TaskID, env.Session.UserID)
				if err != nil {
					return Result{}, err
				}
				return Result{EntityKind: "task", EntityID: t.ID, Data: taskView(t)}, nil
			},
		}),
		Define(Spec[ListInput]{
			Name:        ListNotes,
			Description: "Visible notes, most recently updated first.",
			Phase:       PhaseRead,
			ContextKey:  SectionNotes,
			Run: func(ctx context.Context, env Env, in ListInput) (Result, error) {
				projectID, limit := in.resolve(env)
				notes, err := r.ListNotes(ctx, env.Tx, repo.NoteFilters{UserID: env.Session.UserID, ProjectID: projectID, Limit: limit})
				if err != nil {
					return Result{}, err
				}
				views := make([]NoteView, 0, len(notes))
				for _, n := range notes {
					views = append(views, noteView(n))
				}
				return Result{EntityKind: "note", Data: views}, nil
			},
		}),
		Define(Spec[ListInput]{
			Name:        ListEvents,
			Description: "Upcoming calendar events, soonest first.",
			Phase:       PhaseRead,
			ContextKey:  SectionEvents,
			Run: func(ctx context.Context, env Env, in ListInput) (Result, error) {
				projectID, limit := in.resolve(env)
				from := eng.Now
				if from == nil {
					from = time.Now
				}
				events, err := r.ListCalendarEvents(ctx, env.Tx, repo.CalendarFilters{
					UserID: env.Session.UserID, ProjectID: projectID, From: from().UTC().Format(time.RFC3339), Limit: limit,
				})
				if err != nil {
					return Result{}, err
				}
				views := make([]EventView, 0, len(events))
				for _, e := range events {
					views = append(views, eventView(e))
				}
				return Result{EntityKind: "event", Data: views}, nil
			},
		}),
		Define(Spec[ListInput]{
			Name:        ListNotifications,
			Description: "The user's unread notifications.",
			Phase:       PhaseRead,
			ContextKey:  SectionNotifications,
			Run: func(ctx context.Context, env Env, in ListInput) (Result, error) {
				_, limit := in.resolve(env)
				ns, err := r.ListNotifications(ctx, env.Tx, env.Session.UserID, true, limit)
				if err != nil {
					return Result{}, err
				}
				views := make([]NotificationView, 0, len(ns))
				for _, n := range ns {
					views = append(views, notificationView(n))
				}
				return Result{EntityKind: "notification", Data: views}, nil
			},
		}),

		Define(Spec[plan.TaskCreate]{
			Name:        plan.ToolCreateTask,
			Description: "Create a task; idempotent per clientRequestId.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.TaskCreate) (Result, error) {
				t, _, err := eng.CreateTask(ctx, env.Tx, engine.TaskCreateOptions{
					ActorID:         env.Session.UserID,
					ProjectID:       orScope(in.ProjectID, env),
					Title:           in.Title,
					Description:     in.Description,
					Priority:        in.Priority,
					DueDate:         in.DueDate,
					ClientRequestID: env.RequestKey(in.ClientRequestID),
				})
				return written("task", t.ID, "createdTaskIds", t, err)
			},
		}),
		Define(Spec[plan.TaskUpdate]{
			Name:        plan.ToolUpdateTask,
			Description: "Change fields of an existing task.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.TaskUpdate) (Result, error) {
				t, err := eng.UpdateTask(ctx, env.Tx, engine.TaskUpdateOptions{
					ActorID:     env.Session.UserID,
					ID:          in.TaskID,
					Title:       in.Title,
					Description: in.Description,
					Priority:    in.Priority,
					DueDate:     in.DueDate,
					Reason:      in.Reason,
				})
				return written("task", t.ID, "updatedTaskIds", t, err)
			},
		}),
		Define(Spec[plan.TaskStatusChange]{
			Name:        plan.ToolSetTaskStatus,
			Description: "Move a task to another status.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.TaskStatusChange) (Result, error) {
				t, err := eng.SetTaskStatus(ctx, env.Tx, engine.TaskStatusOptions{
					ActorID: env.Session.UserID, ID: in.TaskID, Status: in.Status, Reason: in.Reason,
				})
				return written("task", t.ID, "updatedTaskIds", t, err)
			},
		}),
		Define(Spec[plan.TaskDelete]{
			Name:        plan.ToolDeleteTask,
			Description: "Delete a task.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.TaskDelete) (Result, error) {
				err := eng.DeleteTask(ctx, env.Tx, in.TaskID, env.Session.UserID, in.Reason)
				return written("task", in.TaskID, "deletedTaskIds", nil, err)
			},
		}),

		Define(Spec[plan.NoteCreate]{
			Name:        plan.ToolCreateNote,
			Description: "Create a note; idempotent per clientRequestId.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.NoteCreate) (Result, error) {
				n, _, err := eng.CreateNote(ctx, env.Tx, engine.NoteCreateOptions{
					ActorID:         env.Session.UserID,
					ProjectID:       orScope(in.ProjectID, env),
					Title:           in.Title,
					Body:            in.Body,
					ClientRequestID: env.RequestKey(in.ClientRequestID),
				})
				return written("note", n.ID, "createdNoteIds", n, err)
			},
		}),
		Define(Spec[plan.NoteUpdate]{
			Name:        plan.ToolUpdateNote,
			Description: "Change the title or body of a note.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.NoteUpdate) (Result, error) {
				n, err := eng.UpdateNote(ctx, env.Tx, engine.NoteUpdateOptions{
					ActorID: env.Session.UserID, ID: in.NoteID, Title: in.Title, Body: in.Body, Reason: in.Reason,
				})
				return written("note", n.ID, "updatedNoteIds", n, err)
			},
		}),
		Define(Spec[plan.NoteDelete]{
			Name:        plan.ToolDeleteNote,
			Description: "Delete a note.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.NoteDelete) (Result, error) {
				err := eng.DeleteNote(ctx, env.Tx, in.NoteID, env.Session.UserID, in.Reason)
				return written("note", in.NoteID, "deletedNoteIds", nil, err)
			},
		}),

		Define(Spec[plan.EventCreate]{
			Name:        plan.ToolCreateEvent,
			Description: "Create a calendar event; idempotent per clientRequestId.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.EventCreate) (Result, error) {
				ev, _, err := eng.CreateEvent(ctx, env.Tx, engine.EventCreateOptions{
					ActorID:         env.Session.UserID,
					ProjectID:       orScope(in.ProjectID, env),
					Title:           in.Title,
					StartsAt:        in.StartsAt,
					EndsAt:          in.EndsAt,
					Location:        in.Location,
					ClientRequestID: env.RequestKey(in.ClientRequestID),
				})
				return written("event", ev.ID, "createdEventIds", ev, err)
			},
		}),
		Define(Spec[plan.EventUpdate]{
			Name:        plan.ToolUpdateEvent,
			Description: "Reschedule, rename or relocate a calendar event.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.EventUpdate) (Result, error) {
				ev, err := eng.UpdateEvent(ctx, env.Tx, engine.EventUpdateOptions{
					ActorID:  env.Session.UserID,
					ID:       in.EventID,
					Title:    in.Title,
					StartsAt: in.StartsAt,
					EndsAt:   in.EndsAt,
					Location: in.Location,
					Reason:   in.Reason,
				})
				return written("event", ev.ID, "updatedEventIds", ev, err)
			},
		}),
		Define(Spec[plan.EventDelete]{
			Name:        plan.ToolDeleteEvent,
			Description: "Delete a calendar event.",
			Phase:       PhaseWrite,
			Run: func(ctx context.Context, env Env, in plan.EventDelete) (Result, error) {
				err := eng.DeleteEvent(ctx, env.Tx, in.EventID, env.Session.UserID, in.Reason)
				return written("event", in.EventID, "deletedEventIds", nil, err)
			},
		}),
	)
}

func orScope(projectID string, env Env) string {
	if projectID != "" {
		return projectID
	}
	return env.Scope.ProjectID
}

func written(kind, id, key string, data any, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{EntityKind: kind, EntityID: id, ResultKey: key, Data: data}, nil
}
