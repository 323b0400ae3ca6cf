package server

import (
	"encoding/json"
	"time"

	"kairos/internal/agent"
	"kairos/internal/agent/plan"
	"kairos/internal/domain"
)

// Request payloads

type ScopeRequest struct {
	OrganizationID string `json:"organizationId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

type CreateDraftRequest struct {
	Message string         `json:"message" minLength:"1"`
	Scope   *ScopeRequest  `json:"scope,omitempty"`
	Handoff map[string]any `json:"handoff,omitempty"`
}

type ApplyDraftRequest struct {
	ConfirmationToken string `json:"confirmationToken" minLength:"1"`
}

type DevLoginRequest struct {
	UserID string `json:"userId"`
	OrgID  string `json:"orgId,omitempty"`
}

// Response payloads

type AgentResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ReadTools   []string `json:"readTools"`
	ApplyTools  []string `json:"applyTools"`
}

type agentList struct {
	Items []AgentResponse `json:"items"`
}

type DraftCreatedResponse struct {
	DraftID     string    `json:"draftId"`
	AgentID     string    `json:"agentId"`
	Plan        any       `json:"plan"`
	PlanHash    string    `json:"planHash"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RepairCount int       `json:"repairCount"`
}

type DraftResponse struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agentId"`
	Status         string     `json:"status" enum:"draft,confirmed,applied,expired,failed"`
	Message        string     `json:"message"`
	OrganizationID string     `json:"organizationId,omitempty"`
	ProjectID      string     `json:"projectId,omitempty"`
	Plan           any        `json:"plan"`
	PlanHash       string     `json:"planHash"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	AppliedAt      *time.Time `json:"appliedAt,omitempty"`
	Result         any        `json:"result,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
}

type draftList struct {
	Items []DraftResponse `json:"items"`
}

type ConfirmResponse struct {
	ConfirmationToken string       `json:"confirmationToken"`
	Summary           plan.Summary `json:"summary"`
	ExpiresAt         time.Time    `json:"expiresAt"`
}

type ApplyResponse struct {
	Applied bool                `json:"applied"`
	Results map[string][]string `json:"results"`
}

type WhoAmIResponse struct {
	UserID string `json:"userId"`
	OrgID  string `json:"orgId,omitempty"`
	Source string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func agentResponse(p agent.Profile) AgentResponse {
	return AgentResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ReadTools:   p.ReadTools.Names(),
		ApplyTools:  p.ApplyTools.Names(),
	}
}

func draftCreatedResponse(out agent.DraftOutput) DraftCreatedResponse {
	return DraftCreatedResponse{
		DraftID:     out.DraftID,
		AgentID:     out.AgentID,
		Plan:        rawToAny(out.Plan),
		PlanHash:    out.PlanHash,
		ExpiresAt:   out.ExpiresAt,
		RepairCount: out.RepairCount,
	}
}

func draftResponse(d domain.Draft) DraftResponse {
	return DraftResponse{
		ID:             d.ID,
		AgentID:        d.AgentID,
		Status:         string(d.Status),
		Message:        d.Message,
		OrganizationID: d.Scope.OrganizationID,
		ProjectID:      d.Scope.ProjectID,
		Plan:           rawToAny(d.Plan),
		PlanHash:       d.PlanHash,
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
		ConfirmedAt:    d.ConfirmedAt,
		AppliedAt:      d.AppliedAt,
		Result:         rawToAny(d.Result),
		FailureReason:  d.FailureReason,
	}
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
