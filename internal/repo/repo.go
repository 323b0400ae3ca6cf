package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kairos/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a compare-and-set update that lost a race.
	ErrConflict = errors.New("conflict")
)

// TimeLayout is fixed-width so stored timestamps compare lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// q returns tx when set, else the pool. Reads made during apply must pass
// the apply transaction so they observe its writes.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// accessibleProjects is a subquery of the project ids a user owns or
// collaborates on. It binds the user id twice.
const accessibleProjects = `SELECT id FROM projects WHERE owner_id=? UNION SELECT project_id FROM project_collaborators WHERE user_id=?`

const projectColumns = `id,org_id,owner_id,name,description,status,created_at,updated_at`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	var orgID, desc sql.NullString
	err := s.Scan(&p.ID, &orgID, &p.OwnerID, &p.Name, &desc, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.OrgID = orgID.String
	p.Description = desc.String
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, nullable(p.OrgID), p.OwnerID, p.Name, nullable(p.Description), p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return p, notFound("project", id)
	}
	return p, err
}

type ProjectFilters struct {
	UserID string
	OrgID  string
	Limit  int
}

// ListProjects returns projects the user owns or collaborates on, most
// recently updated first.
func (r Repo) ListProjects(ctx context.Context, tx *sql.Tx, f ProjectFilters) ([]domain.Project, error) {
	if f.UserID == "" {
		return nil, errors.New("user id required")
	}
	clauses := []string{"id IN (" + accessibleProjects + ")"}
	args := []any{f.UserID, f.UserID}
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	query, args := limitClause(`SELECT `+projectColumns+` FROM projects WHERE `+strings.Join(clauses, " AND ")+` ORDER BY updated_at DESC, id DESC`, args, f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) TouchProject(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET updated_at=? WHERE id=?`, now, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func limitClause(query string, args []any, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	return query + " LIMIT ?", append(args, limit)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
