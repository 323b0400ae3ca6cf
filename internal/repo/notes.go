package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"kairos/internal/domain"
)

const noteColumns = `id,project_id,owner_id,title,body,client_request_id,created_at,updated_at`

func scanNote(s scanner) (domain.Note, error) {
	var n domain.Note
	var projectID, clientRequestID sql.NullString
	err := s.Scan(&n.ID, &projectID, &n.OwnerID, &n.Title, &n.Body, &clientRequestID, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.ProjectID = optionalString(projectID)
	n.ClientRequestID = optionalString(clientRequestID)
	return n, nil
}

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notes(`+noteColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, nullableStringPtr(n.ProjectID), n.OwnerID, n.Title, n.Body, nullableStringPtr(n.ClientRequestID), n.CreatedAt, n.UpdatedAt)
	return err
}

func (r Repo) UpdateNote(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE notes SET title=?, body=?, updated_at=? WHERE id=?`, n.Title, n.Body, n.UpdatedAt, n.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetNote(ctx context.Context, tx *sql.Tx, id string) (domain.Note, error) {
	n, err := scanNote(r.q(tx).QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return n, notFound("note", id)
	}
	return n, err
}

func (r Repo) FindNoteByClientRequestID(ctx context.Context, tx *sql.Tx, ownerID, clientRequestID string) (domain.Note, error) {
	return scanNote(r.q(tx).QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE owner_id=? AND client_request_id=?`, ownerID, clientRequestID))
}

func (r Repo) DeleteNote(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM notes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

type NoteFilters struct {
	UserID    string
	ProjectID string
	Limit     int
}

func (r Repo) ListNotes(ctx context.Context, tx *sql.Tx, f NoteFilters) ([]domain.Note, error) {
	if f.UserID == "" {
		return nil, errors.New("user id required")
	}
	clauses := []string{"(owner_id=? OR project_id IN (" + accessibleProjects + "))"}
	args := []any{f.UserID, f.UserID, f.UserID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	query, args := limitClause(`SELECT `+noteColumns+` FROM notes WHERE `+strings.Join(clauses, " AND ")+` ORDER BY updated_at DESC, id DESC`, args, f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
