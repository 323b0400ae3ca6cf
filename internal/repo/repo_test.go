package repo_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos/internal/domain"
	"kairos/internal/repo"
	"kairos/internal/testutil"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	return repo.Repo{DB: conn}
}

func TestProjectRole(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	role, err := r.ProjectRole(ctx, nil, testutil.AliceProject, testutil.Alice)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectRoleOwner, role)

	role, err = r.ProjectRole(ctx, nil, testutil.SharedProject, testutil.Alice)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectRoleCollaborator, role)

	role, err = r.ProjectRole(ctx, nil, testutil.BobProject, testutil.Alice)
	require.NoError(t, err)
	assert.Empty(t, role)

	_, err = r.ProjectRole(ctx, nil, "proj-missing", testutil.Alice)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListProjectsVisibility(t *testing.T) {
	r := newRepo(t)
	projects, err := r.ListProjects(context.Background(), nil, repo.ProjectFilters{UserID: testutil.Alice})
	require.NoError(t, err)
	var ids []string
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{testutil.AliceProject, testutil.SharedProject}, ids)
}

func TestListTasksVisibilityAndOrder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	conn := r.DB
	testutil.SeedTask(t, conn, testutil.Alice, "", "personal")
	testutil.SeedTask(t, conn, testutil.Bob, testutil.SharedProject, "shared")
	testutil.SeedTask(t, conn, testutil.Bob, testutil.BobProject, "hidden")
	active := testutil.SeedTask(t, conn, testutil.Alice, testutil.AliceProject, "active")
	active.Status = "in_progress"
	active.UpdatedAt = repo.FormatTime(testutil.Epoch.Add(time.Minute))
	require.NoError(t, r.UpdateTask(ctx, nil, active))

	tasks, err := r.ListTasks(ctx, nil, repo.TaskFilters{UserID: testutil.Alice})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, active.ID, tasks[0].ID)
	for _, task := range tasks {
		assert.NotEqual(t, "task-hidden", task.ID)
	}

	tasks, err = r.ListTasks(ctx, nil, repo.TaskFilters{UserID: testutil.Alice, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	counts, err := r.CountTasksByStatus(ctx, nil, testutil.AliceProject)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"in_progress": 1}, counts)
}

func TestFindTaskByClientRequestID(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	crid := "req-1"
	now := repo.FormatTime(testutil.Epoch)
	task := domain.Task{ID: "t1", OwnerID: testutil.Alice, Title: "x", Status: "todo", Priority: "low", ClientRequestID: &crid, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, r.InsertTask(ctx, nil, task))

	got, err := r.FindTaskByClientRequestID(ctx, nil, testutil.Alice, crid)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)

	_, err = r.FindTaskByClientRequestID(ctx, nil, testutil.Bob, crid)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	task.ID = "t2"
	assert.Error(t, r.InsertTask(ctx, nil, task), "duplicate client request id must be rejected")
}

func TestCalendarEventsOrderedByStart(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := repo.FormatTime(testutil.Epoch)
	for _, e := range []domain.CalendarEvent{
		{ID: "late", Title: "late", StartsAt: "2025-03-03T10:00:00Z", EndsAt: "2025-03-03T11:00:00Z"},
		{ID: "early", Title: "early", StartsAt: "2025-03-02T10:00:00Z", EndsAt: "2025-03-02T11:00:00Z"},
		{ID: "past", Title: "past", StartsAt: "2025-02-01T10:00:00Z", EndsAt: "2025-02-01T11:00:00Z"},
	} {
		e.OwnerID = testutil.Alice
		e.CreatedAt, e.UpdatedAt = now, now
		require.NoError(t, r.InsertCalendarEvent(ctx, nil, e))
	}
	events, err := r.ListCalendarEvents(ctx, nil, repo.CalendarFilters{UserID: testutil.Alice, From: "2025-03-01T00:00:00Z"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "early", events[0].ID)
	assert.Equal(t, "late", events[1].ID)
}

func TestDraftTransitionCompareAndSet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	d := domain.Draft{
		ID:        "draft-1",
		AgentID:   "tasks",
		UserID:    testutil.Alice,
		Scope:     domain.Scope{OrganizationID: testutil.Org, ProjectID: testutil.AliceProject},
		Message:   "plan my week",
		Plan:      json.RawMessage(`{"creates":[]}`),
		PlanHash:  "sha256:abc",
		Status:    domain.DraftStatusDraft,
		CreatedAt: testutil.Epoch,
		ExpiresAt: testutil.Epoch.Add(15 * time.Minute),
	}
	require.NoError(t, r.InsertDraft(ctx, nil, d))

	confirmedAt := testutil.Epoch.Add(time.Minute)
	require.NoError(t, r.TransitionDraft(ctx, nil, repo.DraftTransition{ID: d.ID, From: domain.DraftStatusDraft, To: domain.DraftStatusConfirmed, At: confirmedAt}))

	err := r.TransitionDraft(ctx, nil, repo.DraftTransition{ID: d.ID, From: domain.DraftStatusDraft, To: domain.DraftStatusConfirmed, At: confirmedAt})
	assert.ErrorIs(t, err, repo.ErrConflict)

	err = r.TransitionDraft(ctx, nil, repo.DraftTransition{ID: "nope", From: domain.DraftStatusDraft, To: domain.DraftStatusConfirmed})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	got, err := r.GetDraft(ctx, nil, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(confirmedAt))
	assert.True(t, got.ExpiresAt.Equal(d.ExpiresAt))
	assert.JSONEq(t, string(d.Plan), string(got.Plan))
	assert.Equal(t, d.Scope, got.Scope)
}

func TestStaleDrafts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i, status := range []domain.DraftStatus{domain.DraftStatusDraft, domain.DraftStatusConfirmed, domain.DraftStatusApplied} {
		require.NoError(t, r.InsertDraft(ctx, nil, domain.Draft{
			ID: string(status), AgentID: "tasks", UserID: testutil.Alice, Message: "m",
			Plan: json.RawMessage(`{}`), PlanHash: "h", Status: status,
			CreatedAt: testutil.Epoch, ExpiresAt: testutil.Epoch.Add(time.Duration(i) * time.Minute),
		}))
	}
	stale, err := r.StaleDrafts(ctx, testutil.Epoch.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, string(domain.DraftStatusDraft), stale[0].ID)
	assert.Equal(t, string(domain.DraftStatusConfirmed), stale[1].ID)

	drafts, err := r.ListDrafts(ctx, repo.DraftFilters{UserID: testutil.Alice, Status: domain.DraftStatusApplied})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestAuditCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c"} {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO audit_log(ts,type,entity_kind,actor_id) VALUES (?,?,?,?)`, repo.FormatTime(testutil.Epoch), typ, "draft", testutil.Alice)
		require.NoError(t, err)
	}
	latest, err := r.LatestAuditID(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)

	after, err := r.AuditAfter(ctx, 10, 1, "")
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].Type)

	newest, err := r.LatestAudit(ctx, repo.AuditFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "c", newest[0].Type)
}

func TestAPIKeyLookup(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	hash := repo.HashAPIKey(" secret ")
	assert.Equal(t, repo.HashAPIKey("secret"), hash)
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", UserID: testutil.Alice, KeyHash: hash, CreatedAt: repo.FormatTime(testutil.Epoch)}))

	key, err := r.GetAPIKeyByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, testutil.Alice, key.UserID)

	_, err = r.GetAPIKeyByHash(ctx, "missing")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}
