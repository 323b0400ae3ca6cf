package contextpack_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kairos/internal/agent/contextpack"
	"kairos/internal/agent/tools"
	"kairos/internal/apperr"
	"kairos/internal/domain"
	"kairos/internal/engine"
	"kairos/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func TestBuildGathersAllowedSections(t *testing.T) {
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	testutil.SeedTask(t, conn, testutil.Alice, testutil.AliceProject, "a")
	testutil.SeedTask(t, conn, testutil.Alice, testutil.AliceProject, "b")
	testutil.SeedTask(t, conn, testutil.Alice, testutil.AliceProject, "c")
	eng := engine.New(conn)
	reg, err := tools.Builtin(eng)
	require.NoError(t, err)

	b := contextpack.Builder{
		Registry: reg,
		Auth:     eng.Auth,
		Limits:   contextpack.Limits{Tasks: 2},
		Now:      func() time.Time { return testutil.Epoch },
	}
	pack, err := b.Build(context.Background(), contextpack.Request{
		AgentID:   "tasks",
		Session:   testutil.Session(testutil.Alice),
		Scope:     domain.Scope{ProjectID: testutil.AliceProject},
		ReadTools: tools.NewSet(tools.ListTasks, tools.ListProjects, tools.GetTask),
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-03-01", pack.Today)
	assert.Equal(t, testutil.Org, pack.Scope.OrganizationID)
	require.NotNil(t, pack.Project)
	assert.Equal(t, "Launch", pack.Project.Name)
	assert.Equal(t, domain.ProjectRoleOwner, pack.Project.Role)
	assert.Len(t, pack.Tasks, 2)
	assert.Len(t, pack.Projects, 2)
	assert.Nil(t, pack.Notes)

	js, err := pack.JSON()
	require.NoError(t, err)
	assert.NotContains(t, js, `"notes"`)
}

func TestBuildFailsWhenAReadFails(t *testing.T) {
	boom := errors.New("disk on fire")
	failing := tools.Define(tools.Spec[tools.ListInput]{
		Name: "list_tasks", Phase: tools.PhaseRead, ContextKey: tools.SectionTasks,
		Run: func(context.Context, tools.Env, tools.ListInput) (tools.Result, error) { return tools.Result{}, boom },
	})
	reg, err := tools.NewRegistry(failing)
	require.NoError(t, err)
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)

	_, err = contextpack.Builder{Registry: reg, Auth: engine.New(conn).Auth}.Build(context.Background(), contextpack.Request{
		Session:   testutil.Session(testutil.Alice),
		ReadTools: tools.NewSet("list_tasks"),
	})
	assert.ErrorIs(t, err, boom)
}

func TestBuildAuthorizesScope(t *testing.T) {
	conn := testutil.OpenDB(t)
	testutil.Seed(t, conn)
	eng := engine.New(conn)
	reg, err := tools.Builtin(eng)
	require.NoError(t, err)
	b := contextpack.Builder{Registry: reg, Auth: eng.Auth}

	cases := map[string]struct {
		session domain.Session
		scope   domain.Scope
		kind    apperr.Kind
	}{
		"no session":      {domain.Session{}, domain.Scope{}, apperr.Unauthorized},
		"foreign org":     {testutil.Session(testutil.Alice), domain.Scope{OrganizationID: testutil.OtherOrg}, apperr.Forbidden},
		"missing project": {testutil.Session(testutil.Alice), domain.Scope{ProjectID: "proj-nope"}, apperr.NotFound},
		"no role":         {testutil.Session(testutil.Alice), domain.Scope{ProjectID: testutil.BobProject}, apperr.Forbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(context.Background(), contextpack.Request{Session: tc.session, Scope: tc.scope, ReadTools: tools.NewSet(tools.ListTasks)})
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestLimitsDefault(t *testing.T) {
	l := contextpack.Limits{Notes: 3}
	assert.Equal(t, 3, l.For(tools.SectionNotes))
	assert.Equal(t, contextpack.DefaultLimit, l.For(tools.SectionTasks))
}
