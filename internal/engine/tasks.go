package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"kairos/internal/apperr"
	"kairos/internal/audit"
	"kairos/internal/domain"
	"kairos/internal/repo"
)

const dateLayout = "2006-01-02"

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ActorID         string
	ProjectID       string
	Title           string
	Description     string
	Priority        string
	DueDate         string
	ClientRequestID string
}

// CreateTask inserts a task. When ClientRequestID names a task the actor
// already created with the same title and project, that task is returned
// with created=false; a different payload under the same key is INVALID_INPUT.
func (e Engine) CreateTask(ctx context.Context, tx *sql.Tx, opts TaskCreateOptions) (task domain.Task, created bool, err error) {
	if err := requireActor(opts.ActorID); err != nil {
		return task, false, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return task, false, apperr.New(apperr.InvalidInput, "task title is required")
	}
	priority := opts.Priority
	if priority == "" {
		priority = "medium"
	}
	if err := validatePriority(priority); err != nil {
		return task, false, err
	}
	if err := validateDate(opts.DueDate); err != nil {
		return task, false, err
	}
	err = e.inTx(ctx, tx, func(tx *sql.Tx) error {
		if opts.ClientRequestID != "" {
			existing, err := e.Repo.FindTaskByClientRequestID(ctx, tx, opts.ActorID, opts.ClientRequestID)
			if err == nil {
				if existing.Title != title || projectOf(existing.ProjectID) != opts.ProjectID {
					return apperr.New(apperr.InvalidInput, "clientRequestId %q already names a different task", opts.ClientRequestID)
				}
				task = existing
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		projectID := optional(opts.ProjectID)
		if err := e.requireProject(ctx, tx, projectID, opts.ActorID); err != nil {
			return err
		}
		now := e.stamp()
		task = domain.Task{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			OwnerID:         opts.ActorID,
			Title:           title,
			Description:     opts.Description,
			Status:          "todo",
			Priority:        priority,
			DueDate:         optional(opts.DueDate),
			ClientRequestID: optional(opts.ClientRequestID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		created = true
		if err := e.touch(ctx, tx, projectID); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "task.created", ProjectID: projectOf(projectID), EntityKind: "task", EntityID: task.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"title": task.Title, "client_request_id": opts.ClientRequestID},
		})
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	return task, created, nil
}

// TaskUpdateOptions change the fields that are non-nil.
type TaskUpdateOptions struct {
	ActorID     string
	ID          string
	Title       *string
	Description *string
	Priority    *string
	DueDate     *string
	Reason      string
}

func (e Engine) UpdateTask(ctx context.Context, tx *sql.Tx, opts TaskUpdateOptions) (domain.Task, error) {
	var t domain.Task
	if err := requireActor(opts.ActorID); err != nil {
		return t, err
	}
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		var err error
		t, err = e.loadTask(ctx, tx, opts.ID, opts.ActorID)
		if err != nil {
			return err
		}
		var changed []string
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return apperr.New(apperr.InvalidInput, "task title cannot be empty")
			}
			t.Title = title
			changed = append(changed, "title")
		}
		if opts.Description != nil {
			t.Description = *opts.Description
			changed = append(changed, "description")
		}
		if opts.Priority != nil {
			if err := validatePriority(*opts.Priority); err != nil {
				return err
			}
			t.Priority = *opts.Priority
			changed = append(changed, "priority")
		}
		if opts.DueDate != nil {
			if err := validateDate(*opts.DueDate); err != nil {
				return err
			}
			t.DueDate = optional(*opts.DueDate)
			changed = append(changed, "due_date")
		}
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return notFoundAs(err, "task", t.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "task.updated", ProjectID: projectOf(t.ProjectID), EntityKind: "task", EntityID: t.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"fields": changed, "reason": opts.Reason},
		})
	})
	return t, err
}

// TaskStatusOptions move a task to Status.
type TaskStatusOptions struct {
	ActorID string
	ID      string
	Status  string
	Reason  string
}

// SetTaskStatus transitions a task. Setting the current status is a no-op.
func (e Engine) SetTaskStatus(ctx context.Context, tx *sql.Tx, opts TaskStatusOptions) (domain.Task, error) {
	var t domain.Task
	if err := requireActor(opts.ActorID); err != nil {
		return t, err
	}
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		var err error
		t, err = e.loadTask(ctx, tx, opts.ID, opts.ActorID)
		if err != nil {
			return err
		}
		if opts.Status == t.Status {
			return nil
		}
		if err := ensureTaskTransition(t.Status, opts.Status); err != nil {
			return err
		}
		from := t.Status
		t.Status = opts.Status
		t.UpdatedAt = e.stamp()
		if opts.Status == "done" {
			now := t.UpdatedAt
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return notFoundAs(err, "task", t.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "task.status_changed", ProjectID: projectOf(t.ProjectID), EntityKind: "task", EntityID: t.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"from_status": from, "to_status": t.Status, "reason": opts.Reason},
		})
	})
	return t, err
}

func (e Engine) DeleteTask(ctx context.Context, tx *sql.Tx, id, actorID, reason string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	return e.inTx(ctx, tx, func(tx *sql.Tx) error {
		t, err := e.loadTask(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
			return notFoundAs(err, "task", t.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "task.deleted", ProjectID: projectOf(t.ProjectID), EntityKind: "task", EntityID: t.ID, ActorID: actorID,
			Payload: audit.Payload{"title": t.Title, "reason": reason},
		})
	})
}

func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, id, actorID string) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, apperr.New(apperr.InvalidInput, "task id is required")
	}
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return t, notFoundAs(err, "task", id)
	}
	if err := e.requireEntityAccess(ctx, tx, "task", t.ID, t.OwnerID, t.ProjectID, actorID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case "todo":
		if newStatus == "in_progress" || newStatus == "done" || newStatus == "canceled" {
			return nil
		}
	case "in_progress":
		if newStatus == "todo" || newStatus == "done" || newStatus == "canceled" {
			return nil
		}
	case "done", "canceled":
		if newStatus == "todo" {
			return nil
		}
	}
	return apperr.New(apperr.InvalidInput, "invalid task status transition %s -> %s", oldStatus, newStatus)
}

func validatePriority(p string) error {
	switch p {
	case "low", "medium", "high":
		return nil
	}
	return apperr.New(apperr.InvalidInput, "invalid priority %q", p)
}

func validateDate(d string) error {
	if d == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, d); err != nil {
		return apperr.New(apperr.InvalidInput, "due date %q is not YYYY-MM-DD", d)
	}
	return nil
}

// GetTask returns a task the actor can see.
func (e Engine) GetTask(ctx context.Context, tx *sql.Tx, id, actorID string) (domain.Task, error) {
	return e.loadTask(ctx, tx, id, actorID)
}
