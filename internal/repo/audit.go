package repo

import (
	"context"
	"database/sql"
	"strings"

	"kairos/internal/domain"
)

const auditColumns = `id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json`

type AuditFilters struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	// Before returns only entries older than this id when set.
	Before int64
	Limit  int
}

// LatestAudit returns matching entries, newest first.
func (r Repo) LatestAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	for _, c := range []struct {
		col, val string
	}{
		{"project_id", f.ProjectID},
		{"type", f.Type},
		{"entity_kind", f.EntityKind},
		{"entity_id", f.EntityID},
		{"actor_id", f.ActorID},
	} {
		if c.val != "" {
			clauses = append(clauses, c.col+"=?")
			args = append(args, c.val)
		}
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query, args := limitClause(`SELECT `+auditColumns+` FROM audit_log WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id DESC`, args, limit)
	return r.queryAudit(ctx, query, args...)
}

// AuditAfter returns entries with ids greater than cursor in ascending order.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	query, args := limitClause(`SELECT `+auditColumns+` FROM audit_log WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC`, args, limit)
	return r.queryAudit(ctx, query, args...)
}

// LatestAuditID returns the newest entry id, or 0 for an empty log.
func (r Repo) LatestAuditID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM audit_log`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func (r Repo) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
