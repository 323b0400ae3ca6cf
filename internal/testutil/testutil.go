// Package testutil opens migrated throwaway databases and seeds the fixtures
// most tests start from.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"kairos/internal/db"
	"kairos/internal/domain"
	"kairos/internal/migrate"
	"kairos/internal/repo"
)

// Fixed clock used by fixtures.
var Epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	Alice        = "user-alice"
	Bob          = "user-bob"
	Mallory      = "user-mallory"
	Org          = "org-acme"
	OtherOrg     = "org-other"
	AliceProject = "proj-alice"
	BobProject   = "proj-bob"
	// SharedProject is owned by Bob and shared with Alice.
	SharedProject = "proj-shared"
	// ForeignProject lives in OtherOrg and is owned by Mallory.
	ForeignProject = "proj-foreign"
)

// OpenDB returns a migrated database in a temp workspace, closed on cleanup.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// Seed creates the users, organizations and projects named by the constants
// above. Alice and Bob are members of Org; Mallory only of OtherOrg.
func Seed(t testing.TB, conn *sql.DB) {
	t.Helper()
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	now := repo.FormatTime(Epoch)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	for _, u := range []string{Alice, Bob, Mallory} {
		must(r.EnsureUser(ctx, nil, u, u, now))
	}
	must(r.EnsureOrg(ctx, nil, Org, "Acme", now))
	must(r.EnsureOrg(ctx, nil, OtherOrg, "Other", now))
	must(r.AddOrgMember(ctx, nil, Org, Alice, "owner"))
	must(r.AddOrgMember(ctx, nil, Org, Bob, "member"))
	must(r.AddOrgMember(ctx, nil, OtherOrg, Mallory, "owner"))
	for _, p := range []domain.Project{
		{ID: AliceProject, OrgID: Org, OwnerID: Alice, Name: "Launch"},
		{ID: BobProject, OrgID: Org, OwnerID: Bob, Name: "Payroll"},
		{ID: SharedProject, OrgID: Org, OwnerID: Bob, Name: "Roadmap"},
		{ID: ForeignProject, OrgID: OtherOrg, OwnerID: Mallory, Name: "Secret"},
	} {
		p.Status = "active"
		p.CreatedAt, p.UpdatedAt = now, now
		must(r.InsertProject(ctx, nil, p))
	}
	must(r.AddCollaborator(ctx, nil, SharedProject, Alice, now))
}

// SeedTask inserts a todo task owned by owner and returns it.
func SeedTask(t testing.TB, conn *sql.DB, owner, projectID, title string) domain.Task {
	t.Helper()
	now := repo.FormatTime(Epoch)
	task := domain.Task{
		ID:        "task-" + title,
		OwnerID:   owner,
		Title:     title,
		Status:    "todo",
		Priority:  "medium",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if projectID != "" {
		task.ProjectID = &projectID
	}
	if err := (repo.Repo{DB: conn}).InsertTask(context.Background(), nil, task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

// Session returns a session for user in Org.
func Session(user string) domain.Session {
	return domain.Session{UserID: user, ActiveOrganizationID: Org}
}
