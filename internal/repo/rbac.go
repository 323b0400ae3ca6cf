package repo

import (
	"context"
	"database/sql"
	"errors"

	"kairos/internal/domain"
)

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID, name, now string) error {
	if userID == "" {
		return errors.New("user id required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id, name, created_at) VALUES (?,?,?)`, userID, nullable(name), now)
	return err
}

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, orgID, name, now string) error {
	if orgID == "" {
		return errors.New("org id required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO organizations(id, name, created_at) VALUES (?,?,?)`, orgID, name, now)
	return err
}

func (r Repo) AddOrgMember(ctx context.Context, tx *sql.Tx, orgID, userID, role string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO org_members(org_id, user_id, role) VALUES (?,?,?)`, orgID, userID, role)
	return err
}

func (r Repo) IsOrgMember(ctx context.Context, tx *sql.Tx, orgID, userID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM org_members WHERE org_id=? AND user_id=? LIMIT 1`, orgID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) OrgExists(ctx context.Context, tx *sql.Tx, orgID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE id=?`, orgID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) AddCollaborator(ctx context.Context, tx *sql.Tx, projectID, userID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO project_collaborators(project_id, user_id, created_at) VALUES (?,?,?)`, projectID, userID, now)
	return err
}

func (r Repo) RemoveCollaborator(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM project_collaborators WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ProjectRole returns the user's role on a project: owner, collaborator, or
// "" for no access. A missing project is ErrNotFound.
func (r Repo) ProjectRole(ctx context.Context, tx *sql.Tx, projectID, userID string) (string, error) {
	var ownerID string
	err := r.q(tx).QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id=?`, projectID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("project", projectID)
	}
	if err != nil {
		return "", err
	}
	if ownerID == userID {
		return domain.ProjectRoleOwner, nil
	}
	var n int
	err = r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM project_collaborators WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return domain.ProjectRoleCollaborator, nil
}
