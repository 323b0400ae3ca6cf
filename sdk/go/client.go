package kairossdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Kairos HTTP API client.
type Client struct {
	BaseURL  string
	BasePath string
	// OrgID is sent as X-Org-Id; bearer tokens carry their own organization.
	OrgID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  60 * time.Second,
	}
}

type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ReadTools   []string `json:"readTools"`
	ApplyTools  []string `json:"applyTools"`
}

type Scope struct {
	OrganizationID string `json:"organizationId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}

type DraftRequest struct {
	Message string         `json:"message"`
	Scope   *Scope         `json:"scope,omitempty"`
	Handoff map[string]any `json:"handoff,omitempty"`
}

type DraftCreated struct {
	DraftID     string          `json:"draftId"`
	AgentID     string          `json:"agentId"`
	Plan        json.RawMessage `json:"plan"`
	PlanHash    string          `json:"planHash"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	RepairCount int             `json:"repairCount"`
}

type Draft struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agentId"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	OrganizationID string          `json:"organizationId"`
	ProjectID      string          `json:"projectId"`
	Plan           json.RawMessage `json:"plan"`
	PlanHash       string          `json:"planHash"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	ConfirmedAt    *time.Time      `json:"confirmedAt"`
	AppliedAt      *time.Time      `json:"appliedAt"`
	Result         json.RawMessage `json:"result"`
	FailureReason  string          `json:"failureReason"`
}

type SummaryItem struct {
	Action string `json:"action"`
	Entity string `json:"entity"`
	Ref    string `json:"ref"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type Summary struct {
	Creates int           `json:"creates"`
	Updates int           `json:"updates"`
	Deletes int           `json:"deletes"`
	Items   []SummaryItem `json:"items"`
}

type Confirmation struct {
	ConfirmationToken string    `json:"confirmationToken"`
	Summary           Summary   `json:"summary"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type ApplyResult struct {
	Applied bool                `json:"applied"`
	Results map[string][]string `json:"results"`
}

// ListOptions filter ListDrafts. Zero values are omitted.
type ListOptions struct {
	AgentID string
	Status  string
	Limit   int
}

// APIError wraps non-2xx responses. Code is the machine-readable error code
// from the response envelope when one was sent.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp struct {
		Items []Agent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "agents", nil, &resp)
	return resp.Items, err
}

// CreateDraft asks agentID for a plan. Nothing is written until the draft is
// confirmed and applied.
func (c *Client) CreateDraft(ctx context.Context, agentID string, req DraftRequest) (DraftCreated, error) {
	var resp DraftCreated
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("agents/%s/drafts", url.PathEscape(agentID)), req, &resp)
	return resp, err
}

func (c *Client) GetDraft(ctx context.Context, draftID string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodGet, "drafts/"+url.PathEscape(draftID), nil, &resp)
	return resp, err
}

func (c *Client) ListDrafts(ctx context.Context, opts ListOptions) ([]Draft, error) {
	q := url.Values{}
	if opts.AgentID != "" {
		q.Set("agent_id", opts.AgentID)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	endpoint := "drafts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Draft `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Confirm returns the plan summary and the token Apply needs.
func (c *Client) Confirm(ctx context.Context, draftID string) (Confirmation, error) {
	var resp Confirmation
	err := c.do(ctx, http.MethodPost, "drafts/"+url.PathEscape(draftID)+"/confirm", nil, &resp)
	return resp, err
}

func (c *Client) Apply(ctx context.Context, draftID, confirmationToken string) (ApplyResult, error) {
	var resp ApplyResult
	body := map[string]string{"confirmationToken": confirmationToken}
	err := c.do(ctx, http.MethodPost, "drafts/"+url.PathEscape(draftID)+"/apply", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.OrgID != "" {
		req.Header.Set("X-Org-Id", c.OrgID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
