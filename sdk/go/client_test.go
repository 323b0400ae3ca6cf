package kairossdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos/internal/agent"
	"kairos/internal/agent/tools"
	"kairos/internal/engine"
	"kairos/internal/server"
	"kairos/internal/testutil"
	"kairos/internal/transport"
)

const secret = "sdk-test-secret"

func newServer(t *testing.T, replies ...transport.Reply) string {
	t.Helper()
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	eng := engine.New(conn)
	eng.Now = func() time.Time { return testutil.Epoch }
	reg, err := tools.Builtin(eng)
	require.NoError(t, err)
	catalog, err := agent.DefaultCatalog(reg)
	require.NoError(t, err)
	tokens, err := agent.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	orch := agent.New(eng, catalog, reg, transport.NewScripted(replies...), tokens, agent.Options{MaxRepairs: 1})
	handler, err := server.New(server.Config{
		Orchestrator: orch,
		Repo:         eng.Repo,
		Auth:         server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newClient(t *testing.T, baseURL, userID string) *Client {
	t.Helper()
	token, err := server.SignSessionToken(secret, userID, testutil.Org, time.Hour)
	require.NoError(t, err)
	c := New(baseURL)
	c.BearerToken = token
	return c
}

func TestClientLifecycle(t *testing.T) {
	plan := `{"creates":[{"clientRequestId":"c1","title":"Book venue"}],"updates":[],"statusChanges":[],"deletes":[]}`
	url := newServer(t, transport.Texts(plan)...)
	c := newClient(t, url, testutil.Alice)
	ctx := context.Background()

	agents, err := c.Agents(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, agents)

	created, err := c.CreateDraft(ctx, "tasks", DraftRequest{
		Message: "plan the launch",
		Scope:   &Scope{ProjectID: testutil.AliceProject},
	})
	require.NoError(t, err)
	assert.Equal(t, "tasks", created.AgentID)
	assert.NotEmpty(t, created.PlanHash)

	d, err := c.GetDraft(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, "draft", d.Status)

	conf, err := c.Confirm(ctx, created.DraftID)
	require.NoError(t, err)
	assert.Equal(t, 1, conf.Summary.Creates)

	res, err := c.Apply(ctx, created.DraftID, conf.ConfirmationToken)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, res.Results["createdTaskIds"], 1)

	_, err = c.Apply(ctx, created.DraftID, conf.ConfirmationToken)
	require.Error(t, err)
	assert.True(t, IsCode(err, "invalid_state"), err.Error())

	drafts, err := c.ListDrafts(ctx, ListOptions{Status: "applied", Limit: 10})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, created.DraftID, drafts[0].ID)
}

func TestClientErrors(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()

	_, err := New(url).Agents(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = newClient(t, url, testutil.Alice).GetDraft(ctx, "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestAPIErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetDraft(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "bad gateway")
}
