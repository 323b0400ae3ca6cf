package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"kairos/internal/domain"
)

const taskColumns = `id,project_id,owner_id,title,description,status,priority,due_date,client_request_id,created_at,updated_at,completed_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var projectID, description, dueDate, clientRequestID, completedAt sql.NullString
	err := s.Scan(&t.ID, &projectID, &t.OwnerID, &t.Title, &description, &t.Status, &t.Priority, &dueDate, &clientRequestID, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ProjectID = optionalString(projectID)
	t.Description = description.String
	t.DueDate = optionalString(dueDate)
	t.ClientRequestID = optionalString(clientRequestID)
	t.CompletedAt = optionalString(completedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.ProjectID), t.OwnerID, t.Title, nullable(t.Description), t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.ClientRequestID), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

// UpdateTask writes the mutable fields of t.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, due_date=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.DueDate), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return t, notFound("task", id)
	}
	return t, err
}

// FindTaskByClientRequestID looks up a task by its creator's idempotency key.
func (r Repo) FindTaskByClientRequestID(ctx context.Context, tx *sql.Tx, ownerID, clientRequestID string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id=? AND client_request_id=?`, ownerID, clientRequestID))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

type TaskFilters struct {
	// UserID restricts results to tasks the user owns or can see through a
	// project. Required.
	UserID    string
	ProjectID string
	Status    string
	Limit     int
}

// ListTasks returns visible tasks, open work first, then most recently
// updated.
func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	if f.UserID == "" {
		return nil, errors.New("user id required")
	}
	clauses := []string{"(owner_id=? OR project_id IN (" + accessibleProjects + "))"}
	args := []any{f.UserID, f.UserID, f.UserID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query, args := limitClause(`SELECT `+taskColumns+` FROM tasks WHERE `+strings.Join(clauses, " AND ")+
		` ORDER BY CASE status WHEN 'in_progress' THEN 0 WHEN 'todo' THEN 1 ELSE 2 END, updated_at DESC, id DESC`, args, f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, tx *sql.Tx, projectID string) (map[string]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
