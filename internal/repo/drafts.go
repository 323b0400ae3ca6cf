package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kairos/internal/domain"
)

const draftColumns = `id,agent_id,user_id,org_id,project_id,message,plan_json,plan_hash,status,created_at,expires_at,confirmed_at,applied_at,result_json,failure_reason`

func scanDraft(s scanner) (domain.Draft, error) {
	var d domain.Draft
	var orgID, projectID, confirmedAt, appliedAt, result, failure sql.NullString
	var plan, createdAt, expiresAt, status string
	err := s.Scan(&d.ID, &d.AgentID, &d.UserID, &orgID, &projectID, &d.Message, &plan, &d.PlanHash, &status,
		&createdAt, &expiresAt, &confirmedAt, &appliedAt, &result, &failure)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Scope = domain.Scope{OrganizationID: orgID.String, ProjectID: projectID.String}
	d.Plan = json.RawMessage(plan)
	d.Status = domain.DraftStatus(status)
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return d, fmt.Errorf("draft %s created_at: %w", d.ID, err)
	}
	if d.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return d, fmt.Errorf("draft %s expires_at: %w", d.ID, err)
	}
	if d.ConfirmedAt, err = optionalTime(confirmedAt); err != nil {
		return d, err
	}
	if d.AppliedAt, err = optionalTime(appliedAt); err != nil {
		return d, err
	}
	if result.Valid {
		d.Result = json.RawMessage(result.String)
	}
	d.FailureReason = failure.String
	return d, nil
}

func optionalTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r Repo) InsertDraft(ctx context.Context, tx *sql.Tx, d domain.Draft) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO agent_drafts(`+draftColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.AgentID, d.UserID, nullable(d.Scope.OrganizationID), nullable(d.Scope.ProjectID), d.Message,
		string(d.Plan), d.PlanHash, string(d.Status), FormatTime(d.CreatedAt), FormatTime(d.ExpiresAt),
		nil, nil, nil, nil)
	return err
}

func (r Repo) GetDraft(ctx context.Context, tx *sql.Tx, id string) (domain.Draft, error) {
	d, err := scanDraft(r.q(tx).QueryRowContext(ctx, `SELECT `+draftColumns+` FROM agent_drafts WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return d, notFound("draft", id)
	}
	return d, err
}

type DraftFilters struct {
	UserID  string
	AgentID string
	Status  domain.DraftStatus
	Limit   int
}

// ListDrafts returns a user's drafts, newest first.
func (r Repo) ListDrafts(ctx context.Context, f DraftFilters) ([]domain.Draft, error) {
	if f.UserID == "" {
		return nil, errors.New("user id required")
	}
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query, args := limitClause(`SELECT `+draftColumns+` FROM agent_drafts WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args, f.Limit)
	return r.queryDrafts(ctx, query, args...)
}

func (r Repo) queryDrafts(ctx context.Context, query string, args ...any) ([]domain.Draft, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DraftTransition moves a draft From one status To another at At.
type DraftTransition struct {
	ID            string
	From          domain.DraftStatus
	To            domain.DraftStatus
	At            time.Time
	Result        json.RawMessage
	FailureReason string
}

// TransitionDraft applies t only if the draft is still in t.From. A draft that
// exists in any other status yields ErrConflict.
func (r Repo) TransitionDraft(ctx context.Context, tx *sql.Tx, t DraftTransition) error {
	set := []string{"status=?"}
	args := []any{string(t.To)}
	switch t.To {
	case domain.DraftStatusConfirmed:
		set = append(set, "confirmed_at=?")
		args = append(args, FormatTime(t.At))
	case domain.DraftStatusApplied:
		set = append(set, "applied_at=?")
		args = append(args, FormatTime(t.At))
	}
	if len(t.Result) > 0 {
		set = append(set, "result_json=?")
		args = append(args, string(t.Result))
	}
	if t.FailureReason != "" {
		set = append(set, "failure_reason=?")
		args = append(args, t.FailureReason)
	}
	args = append(args, t.ID, string(t.From))
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `UPDATE agent_drafts SET `+strings.Join(set, ", ")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var n int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM agent_drafts WHERE id=?`, t.ID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("draft", t.ID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("draft %s not %s: %w", t.ID, t.From, ErrConflict)
}

// SetDraftResult records the apply result of an applied draft.
func (r Repo) SetDraftResult(ctx context.Context, tx *sql.Tx, id string, result json.RawMessage) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE agent_drafts SET result_json=? WHERE id=?`, string(result), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// StaleDrafts returns open drafts whose expiry is at or before now, oldest
// first.
func (r Repo) StaleDrafts(ctx context.Context, now time.Time, limit int) ([]domain.Draft, error) {
	query, args := limitClause(`SELECT `+draftColumns+` FROM agent_drafts WHERE status IN ('draft','confirmed') AND expires_at<=? ORDER BY expires_at ASC, id ASC`,
		[]any{FormatTime(now)}, limit)
	return r.queryDrafts(ctx, query, args...)
}
