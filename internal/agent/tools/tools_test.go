package tools_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos/internal/agent/plan"
	"kairos/internal/agent/tools"
	"kairos/internal/apperr"
	"kairos/internal/domain"
	"kairos/internal/engine"
	"kairos/internal/testutil"
)

func newRegistry(t *testing.T) (*tools.Registry, engine.Engine) {
	t.Helper()
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	eng := engine.New(conn)
	eng.Now = func() time.Time { return testutil.Epoch }
	reg, err := tools.Builtin(eng)
	require.NoError(t, err)
	return reg, eng
}

func aliceEnv() tools.Env {
	return tools.Env{
		Session: testutil.Session(testutil.Alice),
		Scope:   domain.Scope{OrganizationID: testutil.Org, ProjectID: testutil.AliceProject},
	}
}

func TestExecuteRejectsToolsOutsideTheAllowList(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	allowed := tools.NewSet(tools.ListTasks)

	_, err := reg.Execute(ctx, aliceEnv(), tools.PhaseRead, allowed, "drop_database", nil)
	assert.Equal(t, apperr.ToolNotAllowed, apperr.KindOf(err))

	_, err = reg.Execute(ctx, aliceEnv(), tools.PhaseRead, allowed, tools.ListNotes, nil)
	assert.Equal(t, apperr.ToolNotAllowed, apperr.KindOf(err))

	// Allowed, but a read tool cannot run in the write phase.
	_, err = reg.Execute(ctx, aliceEnv(), tools.PhaseWrite, allowed, tools.ListTasks, nil)
	assert.Equal(t, apperr.ToolNotAllowed, apperr.KindOf(err))
}

func TestExecuteWriteRequiresTransaction(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := reg.Execute(context.Background(), aliceEnv(), tools.PhaseWrite, tools.NewSet(plan.ToolCreateTask), plan.ToolCreateTask,
		plan.TaskCreate{ClientRequestID: "c1", Title: "x"})
	require.Error(t, err)
}

func TestExecuteValidatesInput(t *testing.T) {
	reg, eng := newRegistry(t)
	ctx := context.Background()
	tx, err := eng.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	env := aliceEnv()
	env.Tx = tx
	allowed := tools.NewSet(plan.ToolCreateTask)

	_, err = reg.Execute(ctx, env, tools.PhaseWrite, allowed, plan.ToolCreateTask, json.RawMessage(`{"title":"x","clientRequestId":"c","rm":"-rf"}`))
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	_, err = reg.Execute(ctx, env, tools.PhaseWrite, allowed, plan.ToolCreateTask, json.RawMessage(`{"title":"x"}`))
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestCreateTaskToolDefaultsToScopeProject(t *testing.T) {
	reg, eng := newRegistry(t)
	ctx := context.Background()
	tx, err := eng.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	env := aliceEnv()
	env.Tx = tx

	res, err := reg.Execute(ctx, env, tools.PhaseWrite, tools.NewSet(plan.ToolCreateTask), plan.ToolCreateTask,
		plan.TaskCreate{ClientRequestID: "c1", Title: "Book venue"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, "createdTaskIds", res.ResultKey)
	assert.Equal(t, "task", res.EntityKind)
	task, err := eng.Repo.GetTask(ctx, nil, res.EntityID)
	require.NoError(t, err)
	require.NotNil(t, task.ProjectID)
	assert.Equal(t, testutil.AliceProject, *task.ProjectID)
}

func TestRequestKeyIsScopedToDraft(t *testing.T) {
	env := aliceEnv()
	assert.Equal(t, "c1", env.RequestKey("c1"))
	env.DraftID = "draft-a"
	assert.Equal(t, "draft-a/c1", env.RequestKey("c1"))
	assert.Empty(t, env.RequestKey(""))

	reg, eng := newRegistry(t)
	ctx := context.Background()
	var ids []string
	for _, draftID := range []string{"draft-a", "draft-b"} {
		tx, err := eng.DB.BeginTx(ctx, nil)
		require.NoError(t, err)
		env := aliceEnv()
		env.Tx = tx
		env.DraftID = draftID
		res, err := reg.Execute(ctx, env, tools.PhaseWrite, tools.NewSet(plan.ToolCreateTask), plan.ToolCreateTask,
			plan.TaskCreate{ClientRequestID: "c1", Title: "Book venue"})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		ids = append(ids, res.EntityID)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestWriteToolsCannotReachOtherUsersData(t *testing.T) {
	reg, eng := newRegistry(t)
	ctx := context.Background()
	hidden := testutil.SeedTask(t, eng.DB, testutil.Bob, testutil.BobProject, "payroll")
	tx, err := eng.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	env := aliceEnv()
	env.Tx = tx

	_, err = reg.Execute(ctx, env, tools.PhaseWrite, tools.NewSet(plan.ToolDeleteTask), plan.ToolDeleteTask,
		plan.TaskDelete{TaskID: hidden.ID, Reason: "tidy", Dangerous: true})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestListTasksToolScopesToProject(t *testing.T) {
	reg, eng := newRegistry(t)
	testutil.SeedTask(t, eng.DB, testutil.Alice, testutil.AliceProject, "in-scope")
	testutil.SeedTask(t, eng.DB, testutil.Alice, "", "personal")
	testutil.SeedTask(t, eng.DB, testutil.Bob, testutil.BobProject, "bobs")

	res, err := reg.Execute(context.Background(), aliceEnv(), tools.PhaseRead, tools.NewSet(tools.ListTasks), tools.ListTasks, nil)
	require.NoError(t, err)
	views, ok := res.Data.([]tools.TaskView)
	require.True(t, ok)
	require.Len(t, views, 1)
	assert.Equal(t, "in-scope", views[0].Title)
}

func TestListProjectsToolIncludesRoles(t *testing.T) {
	reg, _ := newRegistry(t)
	env := aliceEnv()
	env.Scope.ProjectID = ""
	res, err := reg.Execute(context.Background(), env, tools.PhaseRead, tools.NewSet(tools.ListProjects), tools.ListProjects, nil)
	require.NoError(t, err)
	views := res.Data.([]tools.ProjectView)
	roles := map[string]string{}
	for _, v := range views {
		roles[v.ID] = v.Role
	}
	assert.Equal(t, map[string]string{
		testutil.AliceProject:  domain.ProjectRoleOwner,
		testutil.SharedProject: domain.ProjectRoleCollaborator,
	}, roles)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	noop := func(context.Context, tools.Env, tools.ListInput) (tools.Result, error) { return tools.Result{}, nil }
	a := tools.Define(tools.Spec[tools.ListInput]{Name: "same", Phase: tools.PhaseRead, Run: noop})
	_, err := tools.NewRegistry(a, a)
	assert.Error(t, err)

	_, err = tools.NewRegistry(tools.Define(tools.Spec[tools.ListInput]{Name: "odd", Phase: "sometimes", Run: noop}))
	assert.Error(t, err)
}

func TestRegistryNamesByPhase(t *testing.T) {
	reg, _ := newRegistry(t)
	assert.Equal(t, []string{
		tools.GetTask, tools.ListEvents, tools.ListNotes, tools.ListNotifications, tools.ListProjects, tools.ListTasks,
	}, reg.Names(tools.PhaseRead))
	assert.Len(t, reg.Names(tools.PhaseWrite), 10)
	assert.Equal(t, []string{"a", "b"}, tools.NewSet("b", "a").Names())
}
