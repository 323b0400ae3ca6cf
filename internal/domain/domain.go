package domain

import (
	"encoding/json"
	"time"
)

// Session identifies the caller. It is supplied by the transport layer; the
// core never authenticates.
type Session struct {
	UserID               string `json:"userId"`
	ActiveOrganizationID string `json:"activeOrganizationId,omitempty"`
}

// Scope narrows a request to an organization and/or project.
type Scope struct {
	OrganizationID string `json:"organizationId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id,omitempty"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,archived"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

const (
	ProjectRoleOwner        = "owner"
	ProjectRoleCollaborator = "collaborator"
)

type Task struct {
	ID              string  `json:"id"`
	ProjectID       *string `json:"project_id,omitempty"`
	OwnerID         string  `json:"owner_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status" enum:"todo,in_progress,done,canceled"`
	Priority        string  `json:"priority" enum:"low,medium,high"`
	DueDate         *string `json:"due_date,omitempty"`
	ClientRequestID *string `json:"client_request_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type Note struct {
	ID              string  `json:"id"`
	ProjectID       *string `json:"project_id,omitempty"`
	OwnerID         string  `json:"owner_id"`
	Title           string  `json:"title"`
	Body            string  `json:"body"`
	ClientRequestID *string `json:"client_request_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// CalendarEvent is a scheduled item. Not to be confused with AuditEvent.
type CalendarEvent struct {
	ID              string  `json:"id"`
	ProjectID       *string `json:"project_id,omitempty"`
	OwnerID         string  `json:"owner_id"`
	Title           string  `json:"title"`
	StartsAt        string  `json:"starts_at" format:"date-time"`
	EndsAt          string  `json:"ends_at" format:"date-time"`
	Location        string  `json:"location,omitempty"`
	ClientRequestID *string `json:"client_request_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	EntityKind string  `json:"entity_kind,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
	ReadAt     *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// AuditEvent is one entry of the append-only audit log.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DraftStatus is the closed set of draft lifecycle states.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusConfirmed DraftStatus = "confirmed"
	DraftStatusApplied   DraftStatus = "applied"
	DraftStatusExpired   DraftStatus = "expired"
	DraftStatusFailed    DraftStatus = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s DraftStatus) Terminal() bool {
	switch s {
	case DraftStatusApplied, DraftStatusExpired, DraftStatusFailed:
		return true
	}
	return false
}

// Draft is a persisted, not-yet-applied mutation plan. Plan holds canonical
// JSON and never changes after creation.
type Draft struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agent_id"`
	UserID        string          `json:"user_id"`
	Scope         Scope           `json:"scope"`
	Message       string          `json:"message"`
	Plan          json.RawMessage `json:"plan"`
	PlanHash      string          `json:"plan_hash"`
	Status        DraftStatus     `json:"status" enum:"draft,confirmed,applied,expired,failed"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	AppliedAt     *time.Time      `json:"applied_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// ExpiredAt reports whether d is past its expiry at now.
func (d Draft) ExpiredAt(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}
