// Package auth answers who may see or change what. It never authenticates:
// the session it checks is already established by the caller.
package auth

import (
	"context"
	"database/sql"
	"errors"

	"kairos/internal/apperr"
	"kairos/internal/domain"
	"kairos/internal/repo"
)

// Service provides RBAC checks backed by SQL.
type Service struct {
	Repo repo.Repo
}

func RequireSession(s domain.Session) error {
	if s.UserID == "" {
		return apperr.New(apperr.Unauthorized, "session required")
	}
	return nil
}

// ProjectAccess returns the user's role on a project. A missing project is
// NOT_FOUND and a project without a role for the user is FORBIDDEN.
func (s Service) ProjectAccess(ctx context.Context, tx *sql.Tx, userID, projectID string) (string, error) {
	role, err := s.Repo.ProjectRole(ctx, tx, projectID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", apperr.Wrap(apperr.NotFound, err, "project %s not found", projectID)
	}
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", apperr.New(apperr.Forbidden, "no access to project %s", projectID)
	}
	return role, nil
}

func (s Service) RequireOrgMember(ctx context.Context, tx *sql.Tx, orgID, userID string) error {
	ok, err := s.Repo.IsOrgMember(ctx, tx, orgID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.Forbidden, "not a member of organization %s", orgID)
	}
	return nil
}

// AuthorizeScope checks that the session may act within scope and returns the
// scope with its organization resolved, plus the scoped project if any.
func (s Service) AuthorizeScope(ctx context.Context, tx *sql.Tx, session domain.Session, scope domain.Scope) (domain.Scope, *domain.Project, error) {
	if err := RequireSession(session); err != nil {
		return scope, nil, err
	}
	if scope.OrganizationID == "" {
		scope.OrganizationID = session.ActiveOrganizationID
	}
	if scope.OrganizationID != "" {
		if err := s.RequireOrgMember(ctx, tx, scope.OrganizationID, session.UserID); err != nil {
			return scope, nil, err
		}
	}
	if scope.ProjectID == "" {
		return scope, nil, nil
	}
	if _, err := s.ProjectAccess(ctx, tx, session.UserID, scope.ProjectID); err != nil {
		return scope, nil, err
	}
	p, err := s.Repo.GetProject(ctx, tx, scope.ProjectID)
	if err != nil {
		return scope, nil, err
	}
	if scope.OrganizationID != "" && p.OrgID != "" && p.OrgID != scope.OrganizationID {
		return scope, nil, apperr.New(apperr.Forbidden, "project %s is outside organization %s", p.ID, scope.OrganizationID)
	}
	return scope, &p, nil
}
