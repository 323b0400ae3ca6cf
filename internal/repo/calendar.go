package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"kairos/internal/domain"
)

const calendarColumns = `id,project_id,owner_id,title,starts_at,ends_at,location,client_request_id,created_at,updated_at`

func scanCalendarEvent(s scanner) (domain.CalendarEvent, error) {
	var e domain.CalendarEvent
	var projectID, location, clientRequestID sql.NullString
	err := s.Scan(&e.ID, &projectID, &e.OwnerID, &e.Title, &e.StartsAt, &e.EndsAt, &location, &clientRequestID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.ProjectID = optionalString(projectID)
	e.Location = location.String
	e.ClientRequestID = optionalString(clientRequestID)
	return e, nil
}

func (r Repo) InsertCalendarEvent(ctx context.Context, tx *sql.Tx, e domain.CalendarEvent) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO calendar_events(`+calendarColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullableStringPtr(e.ProjectID), e.OwnerID, e.Title, e.StartsAt, e.EndsAt, nullable(e.Location),
		nullableStringPtr(e.ClientRequestID), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateCalendarEvent(ctx context.Context, tx *sql.Tx, e domain.CalendarEvent) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE calendar_events SET title=?, starts_at=?, ends_at=?, location=?, updated_at=? WHERE id=?`,
		e.Title, e.StartsAt, e.EndsAt, nullable(e.Location), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetCalendarEvent(ctx context.Context, tx *sql.Tx, id string) (domain.CalendarEvent, error) {
	e, err := scanCalendarEvent(r.q(tx).QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendar_events WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return e, notFound("event", id)
	}
	return e, err
}

func (r Repo) FindCalendarEventByClientRequestID(ctx context.Context, tx *sql.Tx, ownerID, clientRequestID string) (domain.CalendarEvent, error) {
	return scanCalendarEvent(r.q(tx).QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendar_events WHERE owner_id=? AND client_request_id=?`, ownerID, clientRequestID))
}

func (r Repo) DeleteCalendarEvent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM calendar_events WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

type CalendarFilters struct {
	UserID    string
	ProjectID string
	// From drops events that ended before it (RFC 3339).
	From  string
	Limit int
}

// ListCalendarEvents returns visible events ordered by start time.
func (r Repo) ListCalendarEvents(ctx context.Context, tx *sql.Tx, f CalendarFilters) ([]domain.CalendarEvent, error) {
	if f.UserID == "" {
		return nil, errors.New("user id required")
	}
	clauses := []string{"(owner_id=? OR project_id IN (" + accessibleProjects + "))"}
	args := []any{f.UserID, f.UserID, f.UserID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.From != "" {
		clauses = append(clauses, "ends_at>=?")
		args = append(args, f.From)
	}
	query, args := limitClause(`SELECT `+calendarColumns+` FROM calendar_events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY starts_at ASC, id ASC`, args, f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalendarEvent
	for rows.Next() {
		e, err := scanCalendarEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
