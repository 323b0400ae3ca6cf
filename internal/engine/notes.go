package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"kairos/internal/apperr"
	"kairos/internal/audit"
	"kairos/internal/domain"
	"kairos/internal/repo"
)

type NoteCreateOptions struct {
	ActorID         string
	ProjectID       string
	Title           string
	Body            string
	ClientRequestID string
}

// CreateNote inserts a note, returning the existing one with created=false
// when the actor already used ClientRequestID.
func (e Engine) CreateNote(ctx context.Context, tx *sql.Tx, opts NoteCreateOptions) (note domain.Note, created bool, err error) {
	if err := requireActor(opts.ActorID); err != nil {
		return note, false, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return note, false, apperr.New(apperr.InvalidInput, "note title is required")
	}
	err = e.inTx(ctx, tx, func(tx *sql.Tx) error {
		if opts.ClientRequestID != "" {
			existing, err := e.Repo.FindNoteByClientRequestID(ctx, tx, opts.ActorID, opts.ClientRequestID)
			if err == nil {
				if existing.Title != title || projectOf(existing.ProjectID) != opts.ProjectID {
					return apperr.New(apperr.InvalidInput, "clientRequestId %q already names a different note", opts.ClientRequestID)
				}
				note = existing
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
		note = domain.Note{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			OwnerID:         opts.ActorID,
			Title:           title,
			Body:            opts.Body,
			ClientRequestID: optional(opts.ClientRequestID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertNote(ctx, tx, note); err != nil {
			return err
		}
		created = true
		if err := e.touch(ctx, tx, projectID); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "note.created", ProjectID: projectOf(projectID), EntityKind: "note", EntityID: note.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"title": note.Title, "client_request_id": opts.ClientRequestID},
		})
	})
	if err != nil {
		return domain.Note{}, false, err
	}
	return note, created, nil
}

type NoteUpdateOptions struct {
	ActorID string
	ID      string
	Title   *string
	Body    *string
	Reason  string
}

func (e Engine) UpdateNote(ctx context.Context, tx *sql.Tx, opts NoteUpdateOptions) (domain.Note, error) {
	var n domain.Note
	if err := requireActor(opts.ActorID); err != nil {
		return n, err
	}
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		var err error
		n, err = e.loadNote(ctx, tx, opts.ID, opts.ActorID)
		if err != nil {
			return err
		}
		var changed []string
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return apperr.New(apperr.InvalidInput, "note title cannot be empty")
			}
			n.Title = title
			changed = append(changed, "title")
		}
		if opts.Body != nil {
			n.Body = *opts.Body
			changed = append(changed, "body")
		}
		n.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateNote(ctx, tx, n); err != nil {
			return notFoundAs(err, "note", n.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "note.updated", ProjectID: projectOf(n.ProjectID), EntityKind: "note", EntityID: n.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"fields": changed, "reason": opts.Reason},
		})
	})
	return n, err
}

func (e Engine) DeleteNote(ctx context.Context, tx *sql.Tx, id, actorID, reason string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	return e.inTx(ctx, tx, func(tx *sql.Tx) error {
		n, err := e.loadNote(ctx, tx, id, actorID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteNote(ctx, tx, n.ID); err != nil {
			return notFoundAs(err, "note", n.ID)
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "note.deleted", ProjectID: projectOf(n.ProjectID), EntityKind: "note", EntityID: n.ID, ActorID: actorID,
			Payload: audit.Payload{"title": n.Title, "reason": reason},
		})
	})
}

func (e Engine) loadNote(ctx context.Context, tx *sql.Tx, id, actorID string) (domain.Note, error) {
	if id == "" {
		return domain.Note{}, apperr.New(apperr.InvalidInput, "note id is required")
	}
	n, err := e.Repo.GetNote(ctx, tx, id)
	if err != nil {
		return n, notFoundAs(err, "note", id)
	}
	if err := e.requireEntityAccess(ctx, tx, "note", n.ID, n.OwnerID, n.ProjectID, actorID); err != nil {
		return domain.Note{}, err
	}
	return n, nil
}
