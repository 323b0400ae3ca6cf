package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"kairos/internal/agent"
	"kairos/internal/agent/tools"
	"kairos/internal/apperr"
	"kairos/internal/config"
	"kairos/internal/domain"
	"kairos/internal/engine"
	"kairos/internal/metrics"
	"kairos/internal/repo"
	"kairos/internal/testutil"
	"kairos/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

const jwtSecret = "jwt-secret-for-tests"

const createPlan = `{"creates":[{"clientRequestId":"c1","title":"Book venue","priority":"high"}],"updates":[],"statusChanges":[],"deletes":[]}`

type testServer struct {
	*httptest.Server
	eng     engine.Engine
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, allowDev bool, replies ...transport.Reply) *testServer {
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
	m := metrics.New()
	orch := agent.New(eng, catalog, reg, transport.NewScripted(replies...), tokens, agent.Options{MaxRepairs: 1, Metrics: m})
	handler, err := New(Config{
		Orchestrator: orch,
		Repo:         eng.Repo,
		Metrics:      m,
		Auth:         AuthConfig{JWTSecret: jwtSecret, AllowDevHeader: allowDev},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, eng: eng, metrics: m}
}

func devHeaders(user string) map[string]string {
	return map[string]string{"X-User-Id": user, "X-Org-Id": testutil.Org}
}

func doJSON(t *testing.T, srv *testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type envelope struct {
	Error apiErrorBody `json:"error"`
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, true, transport.Texts(createPlan)...)
	h := devHeaders(testutil.Alice)

	res, data := doJSON(t, srv, http.MethodPost, "/v1/agents/tasks/drafts", map[string]any{
		"message": "plan the launch",
		"scope":   map[string]string{"projectId": testutil.AliceProject},
	}, h)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[DraftCreatedResponse](t, data)
	assert.Equal(t, "tasks", created.AgentID)
	assert.True(t, strings.HasPrefix(created.PlanHash, "sha256:"))

	res, data = doJSON(t, srv, http.MethodGet, "/v1/drafts/"+created.DraftID, nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	got := decode[DraftResponse](t, data)
	assert.Equal(t, "draft", got.Status)
	assert.Equal(t, testutil.AliceProject, got.ProjectID)

	res, data = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+created.DraftID+"/confirm", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	confirmed := decode[ConfirmResponse](t, data)
	assert.NotEmpty(t, confirmed.ConfirmationToken)
	assert.Equal(t, 1, confirmed.Summary.Creates)

	res, data = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+created.DraftID+"/apply",
		map[string]string{"confirmationToken": confirmed.ConfirmationToken}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	applied := decode[ApplyResponse](t, data)
	assert.True(t, applied.Applied)
	assert.Len(t, applied.Results["createdTaskIds"], 1)

	res, data = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+created.DraftID+"/apply",
		map[string]string{"confirmationToken": confirmed.ConfirmationToken}, h)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_state", decode[envelope](t, data).Error.Code)

	res, data = doJSON(t, srv, http.MethodGet, "/v1/drafts?status=applied", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	list := decode[draftList](t, data)
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.DraftID, list.Items[0].ID)

	res, data = doJSON(t, srv, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "kairos_drafts_total")
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, true, transport.Texts(createPlan)...)
	alice := devHeaders(testutil.Alice)

	res, data := doJSON(t, srv, http.MethodGet, "/v1/drafts/nope", nil, alice)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[envelope](t, data).Error.Code)

	res, data = doJSON(t, srv, http.MethodPost, "/v1/agents/unknown/drafts", map[string]any{"message": "hi"}, alice)
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doJSON(t, srv, http.MethodPost, "/v1/agents/tasks/drafts", map[string]any{"message": ""}, alice)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_input", decode[envelope](t, data).Error.Code)

	res, data = doJSON(t, srv, http.MethodGet, "/v1/drafts?status=bogus", nil, alice)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv, http.MethodPost, "/v1/agents/tasks/drafts", map[string]any{"message": "plan"}, alice)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	id := decode[DraftCreatedResponse](t, data).DraftID

	// Bob cannot see Alice's draft.
	res, _ = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+id+"/confirm", nil, devHeaders(testutil.Bob))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+id+"/apply", map[string]string{"confirmationToken": "x"}, alice)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, _ = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+id+"/confirm", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data = doJSON(t, srv, http.MethodPost, "/v1/drafts/"+id+"/apply", map[string]string{"confirmationToken": "not-a-token"}, alice)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "token_mismatch", decode[envelope](t, data).Error.Code)
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, false)

	res, data := doJSON(t, srv, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv, http.MethodGet, "/v1/agents", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[envelope](t, data).Error.Code)

	res, _ = doJSON(t, srv, http.MethodGet, "/v1/agents", nil, devHeaders(testutil.Alice))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, "dev header must be off")

	token, err := SignSessionToken(jwtSecret, testutil.Alice, testutil.Org, time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, srv, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, WhoAmIResponse{UserID: testutil.Alice, OrgID: testutil.Org, Source: "jwt"}, decode[WhoAmIResponse](t, data))

	forged, err := SignSessionToken("some-other-secret", testutil.Alice, testutil.Org, time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, srv, http.MethodGet, "/v1/me", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[envelope](t, data).Error.Code)

	require.NoError(t, srv.eng.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "key-1", UserID: testutil.Bob, KeyHash: repo.HashAPIKey("k-secret"), CreatedAt: repo.FormatTime(testutil.Epoch),
	}))
	res, data = doJSON(t, srv, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": "k-secret"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, testutil.Bob, decode[WhoAmIResponse](t, data).UserID)

	res, data = doJSON(t, srv, http.MethodGet, "/v1/agents", nil, map[string]string{"X-Api-Key": "k-secret"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	agents := decode[agentList](t, data)
	require.Len(t, agents.Items, 3)
	assert.Equal(t, "calendar", agents.Items[0].ID)
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv := newTestServer(t, false)
	res, data := doJSON(t, srv, http.MethodGet, "/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "/drafts/{draft_id}/apply")
}

func TestHandleErrorMapsKinds(t *testing.T) {
	log := zap.NewNop()
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.New(apperr.Expired, "draft expired"), http.StatusGone, "expired"},
		{apperr.New(apperr.ToolNotAllowed, "no"), http.StatusForbidden, "tool_not_allowed"},
		{apperr.New(apperr.ValidationFailed, "bad plan"), http.StatusUnprocessableEntity, "validation_failed"},
		{apperr.New(apperr.ModelUnavailable, "down"), http.StatusServiceUnavailable, "model_unavailable"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}
	for _, c := range cases {
		se := handleError(log, c.err)
		assert.Equal(t, c.status, se.GetStatus(), c.err.Error())
		body := se.(*apiError).Body
		assert.Equal(t, c.code, body.Code)
		assert.NotContains(t, body.Message, "disk on fire")
	}
}

type hookRecorder struct {
	mu         sync.Mutex
	types      []string
	deliveries []Delivery
	signatures []string
	bodies     [][]byte
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var d Delivery
	_ = json.Unmarshal(body, &d)
	h.mu.Lock()
	h.types = append(h.types, r.Header.Get("X-Kairos-Event"))
	h.deliveries = append(h.deliveries, d)
	h.signatures = append(h.signatures, r.Header.Get("X-Kairos-Signature"))
	h.bodies = append(h.bodies, body)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) snapshot() ([]string, []Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.types...), append([]Delivery(nil), h.deliveries...)
}

func TestWebhookDispatcherDeliversMatchingAudit(t *testing.T) {
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	eng := engine.New(conn)
	ctx := context.Background()

	rec := &hookRecorder{}
	hookSrv := httptest.NewServer(rec)
	defer hookSrv.Close()
	disabled := false
	d := NewWebhookDispatcher(eng.Repo, []config.WebhookConfig{
		{URL: hookSrv.URL, Events: []string{"task.*"}, Secret: "s3"},
		{URL: hookSrv.URL, Enabled: &disabled},
	}, nil)

	// The first pass pins the cursor, so older entries are never replayed.
	_, _, err := eng.CreateTask(ctx, nil, engine.TaskCreateOptions{ActorID: testutil.Alice, Title: "before"})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	_, _, err = eng.CreateTask(ctx, nil, engine.TaskCreateOptions{ActorID: testutil.Alice, Title: "after"})
	require.NoError(t, err)
	_, _, err = eng.CreateNote(ctx, nil, engine.NoteCreateOptions{ActorID: testutil.Alice, Title: "skipped"})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	types, deliveries := rec.snapshot()
	assert.Equal(t, []string{"task.created"}, types)
	assert.Equal(t, "task", deliveries[0].EntityKind)
	assert.Equal(t, testutil.Alice, deliveries[0].ActorID)
	assert.Nil(t, deliveries[0].Draft)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, Sign("s3", rec.bodies[0]), rec.signatures[0])
	assert.NotEqual(t, Sign("other", rec.bodies[0]), rec.signatures[0])
}

func TestWebhookDispatcherFiltersByUserAndProject(t *testing.T) {
	srv := newTestServer(t, true, transport.Texts(createPlan)...)
	ctx := context.Background()

	byUser, byProject := &hookRecorder{}, &hookRecorder{}
	userSrv := httptest.NewServer(byUser)
	defer userSrv.Close()
	projectSrv := httptest.NewServer(byProject)
	defer projectSrv.Close()
	d := NewWebhookDispatcher(srv.eng.Repo, []config.WebhookConfig{
		{URL: userSrv.URL, Events: []string{"draft.*"}, Users: []string{testutil.Alice}},
		{URL: projectSrv.URL, Projects: []string{testutil.AliceProject}},
	}, nil)
	d.DispatchAll(ctx)

	res, data := doJSON(t, srv, http.MethodPost, "/v1/agents/tasks/drafts", map[string]any{
		"message": "plan the launch",
		"scope":   map[string]string{"projectId": testutil.AliceProject},
	}, devHeaders(testutil.Alice))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[DraftCreatedResponse](t, data)

	_, _, err := srv.eng.CreateTask(ctx, nil, engine.TaskCreateOptions{ActorID: testutil.Bob, Title: "elsewhere"})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	for name, rec := range map[string]*hookRecorder{"user": byUser, "project": byProject} {
		types, deliveries := rec.snapshot()
		assert.Equal(t, []string{"draft.created"}, types, name)
		require.Len(t, deliveries, 1, name)
		require.NotNil(t, deliveries[0].Draft, name)
		assert.Equal(t, created.DraftID, deliveries[0].Draft.ID)
		assert.Equal(t, testutil.Alice, deliveries[0].Draft.UserID)
		assert.Equal(t, "draft", deliveries[0].Draft.Status)
		assert.Equal(t, created.PlanHash, deliveries[0].Draft.PlanHash)
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"draft.*", "task.deleted"})
	assert.True(t, f.match("draft.applied"))
	assert.True(t, f.match("task.deleted"))
	assert.False(t, f.match("task.created"))
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" ", ""}).match("anything"))
}
