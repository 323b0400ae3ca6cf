package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"kairos/internal/agent"
	"kairos/internal/domain"
)

type handlers struct {
	orch *agent.Orchestrator
	log  *zap.Logger
}

type draftPath struct {
	DraftID string `path:"draft_id"`
}

func registerAgents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body agentList `json:"body"`
	}, error) {
		if _, authErr := sessionFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		resp := agentList{Items: []AgentResponse{}}
		for _, p := range h.orch.Catalog().List() {
			resp.Items = append(resp.Items, agentResponse(p))
		}
		return &struct {
			Body agentList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDrafts(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/agents/{agent_id}/drafts",
		Summary:       "Draft a plan",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		AgentID string             `path:"agent_id"`
		Body    CreateDraftRequest `json:"body"`
	}) (*struct {
		Body DraftCreatedResponse `json:"body"`
	}, error) {
		session, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := agent.DraftInput{
			AgentID: input.AgentID,
			Session: session,
			Message: input.Body.Message,
			Handoff: input.Body.Handoff,
		}
		if s := input.Body.Scope; s != nil {
			in.Scope = domain.Scope{
				OrganizationID: strings.TrimSpace(s.OrganizationID),
				ProjectID:      strings.TrimSpace(s.ProjectID),
			}
		}
		out, err := h.orch.Draft(ctx, in)
		if err != nil {
			return nil, handleError(h.log, err)
		}
		return &struct {
			Body DraftCreatedResponse `json:"body"`
		}{Body: draftCreatedResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List your drafts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
		Status  string `query:"status"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body draftList `json:"body"`
	}, error) {
		session, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		drafts, err := h.orch.List(ctx, session, agent.ListFilter{
			AgentID: input.AgentID,
			Status:  domain.DraftStatus(input.Status),
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(h.log, err)
		}
		resp := draftList{Items: []DraftResponse{}}
		for _, d := range drafts {
			resp.Items = append(resp.Items, draftResponse(d))
		}
		return &struct {
			Body draftList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}",
		Summary:     "Get a draft",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		session, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := h.orch.Get(ctx, session, input.DraftID)
		if err != nil {
			return nil, handleError(h.log, err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: draftResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/confirm",
		Summary:     "Confirm a draft and receive its apply token",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusGone,
		},
	}, func(ctx context.Context, input *draftPath) (*struct {
		Body ConfirmResponse `json:"body"`
	}, error) {
		session, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := h.orch.Confirm(ctx, agent.ConfirmInput{Session: session, DraftID: input.DraftID})
		if err != nil {
			return nil, handleError(h.log, err)
		}
		return &struct {
			Body ConfirmResponse `json:"body"`
		}{Body: ConfirmResponse{ConfirmationToken: out.ConfirmationToken, Summary: out.Summary, ExpiresAt: out.ExpiresAt}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/apply",
		Summary:     "Apply a confirmed draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusGone,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DraftID string            `path:"draft_id"`
		Body    ApplyDraftRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		session, authErr := sessionFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := h.orch.Apply(ctx, agent.ApplyInput{
			Session:           session,
			DraftID:           input.DraftID,
			ConfirmationToken: strings.TrimSpace(input.Body.ConfirmationToken),
		})
		if err != nil {
			return nil, handleError(h.log, err)
		}
		results := out.Results
		if results == nil {
			results = map[string][]string{}
		}
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: ApplyResponse{Applied: out.Applied, Results: results}}, nil
	})
}
