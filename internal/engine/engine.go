// Package engine performs the domain mutations: projects, tasks, notes,
// calendar events and notifications. Every mutation re-checks that the actor
// may touch the entities it names and appends an audit entry in the same
// transaction.
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
	"kairos/internal/engine/auth"
	"kairos/internal/repo"
)

type Engine struct {
	DB    *sql.DB
	Repo  repo.Repo
	Audit audit.Writer
	Auth  auth.Service
	Now   func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:   db,
		Repo: r,
		Auth: auth.Service{Repo: r},
		Now:  time.Now,
	}
	e.Audit = audit.Writer{Now: e.now}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return repo.FormatTime(e.now())
}

// inTx runs fn in tx, or in a transaction of its own when tx is nil.
func (e Engine) inTx(ctx context.Context, tx *sql.Tx, fn func(*sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	own, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer own.Rollback()
	if err := fn(own); err != nil {
		return err
	}
	return own.Commit()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, tx *sql.Tx, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, apperr.New(apperr.InvalidInput, "project name is required")
	}
	if opts.ActorID == "" {
		return domain.Project{}, apperr.New(apperr.Unauthorized, "actor required")
	}
	now := e.stamp()
	p := domain.Project{
		ID:          opts.ID,
		OrgID:       opts.OrgID,
		OwnerID:     opts.ActorID,
		Name:        strings.TrimSpace(opts.Name),
		Description: opts.Description,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		if err := e.Repo.EnsureUser(ctx, tx, opts.ActorID, "", now); err != nil {
			return err
		}
		if p.OrgID != "" {
			if err := e.Auth.RequireOrgMember(ctx, tx, p.OrgID, opts.ActorID); err != nil {
				return err
			}
		}
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "project.created", ProjectID: p.ID, EntityKind: "project", EntityID: p.ID, ActorID: opts.ActorID,
			Payload: audit.Payload{"name": p.Name, "org_id": p.OrgID},
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// EnsureOrg creates orgID with actorID as owner when it does not exist yet.
// An existing organization is left untouched.
func (e Engine) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, actorID string) error {
	if err := requireActor(actorID); err != nil {
		return err
	}
	if strings.TrimSpace(orgID) == "" {
		return apperr.New(apperr.InvalidInput, "organization id is required")
	}
	return e.inTx(ctx, tx, func(tx *sql.Tx) error {
		ok, err := e.Repo.OrgExists(ctx, tx, orgID)
		if err != nil || ok {
			return err
		}
		now := e.stamp()
		if err := e.Repo.EnsureUser(ctx, tx, actorID, "", now); err != nil {
			return err
		}
		if name == "" {
			name = orgID
		}
		if err := e.Repo.EnsureOrg(ctx, tx, orgID, name, now); err != nil {
			return err
		}
		if err := e.Repo.AddOrgMember(ctx, tx, orgID, actorID, "owner"); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "org.created", EntityKind: "organization", EntityID: orgID, ActorID: actorID,
			Payload: audit.Payload{"name": name},
		})
	})
}

// ShareProject makes userID a collaborator. Only the owner may share.
func (e Engine) ShareProject(ctx context.Context, tx *sql.Tx, projectID, userID, actorID string) error {
	if userID == "" {
		return apperr.New(apperr.InvalidInput, "user id is required")
	}
	return e.inTx(ctx, tx, func(tx *sql.Tx) error {
		role, err := e.Auth.ProjectAccess(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if role != domain.ProjectRoleOwner {
			return apperr.New(apperr.Forbidden, "only the owner may share project %s", projectID)
		}
		now := e.stamp()
		if err := e.Repo.EnsureUser(ctx, tx, userID, "", now); err != nil {
			return err
		}
		if err := e.Repo.AddCollaborator(ctx, tx, projectID, userID, now); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, audit.Entry{
			Type: "project.shared", ProjectID: projectID, EntityKind: "project", EntityID: projectID, ActorID: actorID,
			Payload: audit.Payload{"user_id": userID},
		})
	})
}

// Notify inserts a notification for userID.
func (e Engine) Notify(ctx context.Context, tx *sql.Tx, n domain.Notification) (domain.Notification, error) {
	if n.UserID == "" || n.Message == "" {
		return n, errors.New("notification needs a user and a message")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = e.stamp()
	err := e.inTx(ctx, tx, func(tx *sql.Tx) error {
		return e.Repo.InsertNotification(ctx, tx, n)
	})
	return n, err
}

// requireEntityAccess checks that actorID owns an entity or has a role on its
// project. Inaccessible entities are reported as missing.
func (e Engine) requireEntityAccess(ctx context.Context, tx *sql.Tx, kind, id, ownerID string, projectID *string, actorID string) error {
	if ownerID == actorID {
		return nil
	}
	if projectID != nil && *projectID != "" {
		role, err := e.Repo.ProjectRole(ctx, tx, *projectID, actorID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if role != "" {
			return nil
		}
	}
	return apperr.New(apperr.NotFound, "%s %s not found", kind, id)
}

// requireProject checks access to an optional target project.
func (e Engine) requireProject(ctx context.Context, tx *sql.Tx, projectID *string, actorID string) error {
	if projectID == nil || *projectID == "" {
		return nil
	}
	if _, err := e.Auth.ProjectAccess(ctx, tx, actorID, *projectID); err != nil {
		return err
	}
	return nil
}

func (e Engine) touch(ctx context.Context, tx *sql.Tx, projectID *string) error {
	if projectID == nil || *projectID == "" {
		return nil
	}
	err := e.Repo.TouchProject(ctx, tx, *projectID, e.stamp())
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

func notFoundAs(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, err, "%s %s not found", kind, id)
	}
	return err
}

func projectOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func requireActor(actorID string) error {
	if actorID == "" {
		return apperr.New(apperr.Unauthorized, "actor required")
	}
	return nil
}
