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

type EventCreateOptions struct {
	ActorID         string
	ProjectID       string
	Title           string
	StartsAt        string
	EndsAt          string
	Location        string
	ClientRequestID string
}

// CreateEvent inserts a calendar event, returning the existing one with
// created=false when the actor already used ClientRequestID.
func (e Engine) CreateEvent(ctx context.Context, tx *sql.Tx, opts EventCreateOptions) (ev domain.CalendarEvent, created bool, err error) {
	if err := requireActor(opts.ActorID); err != nil {
		return ev, false, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return ev, false, apperr.New(apperr.InvalidInput, "event title is required")
	}
	startsAt, endsAt, err := eventWindow(opts.StartsAt, opts.EndsAt)
	if err != nil {
		return ev, false, err
	}
	err = e.inTx(ctx, tx, func(tx *sql.Tx) error {
		if opts.ClientRequestID != "" {
			existing, err := e.Repo.FindCalendarEventByClientRequestID(ctx, tx, opts.ActorID, opts.ClientRequestID)
			if err == nil {
				if existing.Title != title || projectOf(existing.ProjectID) != opts.ProjectID {
					return apperr.New(apperr.InvalidInput, "clientRequestId %q already names a different event", opts.ClientRequestID)
				}
				ev = existing
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
		ev = domain.CalendarEvent{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			OwnerID:         opts.ActorID,
			Title:           title,
			StartsAt:        startsAt,
			EndsAt:          endsAt,
			Location:        strings.TrimSpace(opts.Location),
			ClientRequestID: optional(opts.ClientRequestID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertCalendarEvent(ctx, tx, ev); err != nil {
			return err
		}
		created = true
		if err := e.touch(ctx, tx, projectID); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "event.created", ProjectID: projectOf(projectID), EntityKind: "event", EntityID: ev.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"title": ev.Title, "starts_at": ev.StartsAt, "client_request_id": opts.ClientRequestID},
		})
	})
	if err != nil {
		return domain.CalendarEvent{}, false, err
	}
	return ev, created, nil
}

type EventUpdateOptions struct {
	ActorID  string
	ID       string
	Title    *string
	StartsAt *string
	EndsAt   *string
	Location *string
	Reason   string
}

// UpdateEvent changes the non-nil fields. The resulting window must still end
// after it starts.
func (e Engine) UpdateEvent(ctx context.Context, tx *sql.Tx, opts EventUpdateOptions) (domain.CalendarEvent, error) {
	var ev domain.CalendarEvent
	if err := requireActor(opts.ActorID); err != nil {
		return ev, err
	}
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		var err error
		ev, err = e.loadEvent(ctx, tx, opts.ID, opts.ActorID)
		if err != nil {
			return err
		}
		var changed []string
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return apperr.New(apperr.InvalidInput, "event title cannot be empty")
			}
			ev.Title = title
			changed = append(changed, "title")
		}
		startsAt, endsAt := ev.StartsAt, ev.EndsAt
		if opts.StartsAt != nil {
			startsAt = *opts.StartsAt
			changed = append(changed, "starts_at")
		}
		if opts.EndsAt != nil {
			endsAt = *opts.EndsAt
			changed = append(changed, "ends_at")
		}
		if ev.StartsAt, ev.EndsAt, err = eventWindow(startsAt, endsAt); err != nil {
			return err
		}
		if opts.Location != nil {
			ev.Location = strings.TrimSpace(*opts.Location)
			changed = append(changed, "location")
		}
		ev.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateCalendarEvent(ctx, tx, ev); err != nil {
			return notFoundAs(err, "event", ev.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "event.updated", ProjectID: projectOf(ev.ProjectID), EntityKind: "event", EntityID: ev.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"fields": changed, "reason": opts.Reason},
		})
	})
	return ev, err
}

func (e Engine) DeleteEvent(ctx context.Context, tx *sql.Tx, id, actorID, reason string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	return e.inTx(ctx, tx, func(tx *sql.Tx) error {
		ev, err := e.loadEvent(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteCalendarEvent(ctx, tx, ev.ID); err != nil {
			return notFoundAs(err, "event", ev.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "event.deleted", ProjectID: projectOf(ev.ProjectID), EntityKind: "event", EntityID: ev.ID, ActorID: actorID,
			Payload: audit.Payload{"title": ev.Title, "reason": reason},
		})
	})
}

func (e Engine) loadEvent(ctx context.Context, tx *sql.Tx, id, actorID string) (domain.CalendarEvent, error) {
	if id == "" {
		return domain.CalendarEvent{}, apperr.New(apperr.InvalidInput, "event id is required")
	}
	ev, err := e.Repo.GetCalendarEvent(ctx, tx, id)
	if err != nil {
		return ev, notFoundAs(err, "event", id)
	}
	if err := e.requireEntityAccess(ctx, tx, "event", ev.ID, ev.OwnerID, ev.ProjectID, actorID); err != nil {
		return domain.CalendarEvent{}, err
	}
	return ev, nil
}

// eventWindow parses both bounds and returns them normalized to UTC.
func eventWindow(startsAt, endsAt string) (string, string, error) {
	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil {
		return "", "", apperr.New(apperr.InvalidInput, "startsAt %q is not RFC 3339", startsAt)
	}
	end, err := time.Parse(time.RFC3339, endsAt)
	if err != nil {
		return "", "", apperr.New(apperr.InvalidInput, "endsAt %q is not RFC 3339", endsAt)
	}
	if !end.After(start) {
		return "", "", apperr.New(apperr.InvalidInput, "event must end after it starts")
	}
	return start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), nil
}
