// Package contextpack assembles the read-only snapshot of a user's data that
// is handed to the model when drafting.
package contextpack

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kairos/internal/agent/tools"
	"kairos/internal/domain"
	"kairos/internal/engine/auth"
	"kairos/internal/logging"
)

// Pack is the snapshot. It holds plain values only and marshals
// deterministically for a given database state.
type Pack struct {
	AgentID       string                   `json:"agentId"`
	UserID        string                   `json:"userId"`
	Today         string                   `json:"today"`
	Scope         domain.Scope             `json:"scope"`
	Project       *tools.ProjectView       `json:"project,omitempty"`
	Projects      []tools.ProjectView      `json:"projects,omitempty"`
	Tasks         []tools.TaskView         `json:"tasks,omitempty"`
	Notes         []tools.NoteView         `json:"notes,omitempty"`
	Events        []tools.EventView        `json:"events,omitempty"`
	Notifications []tools.NotificationView `json:"notifications,omitempty"`
	Handoff       map[string]any           `json:"handoff,omitempty"`
}

// JSON renders the pack indented, for embedding in a prompt.
func (p Pack) JSON() (string, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Limits caps each section. Zero means DefaultLimit.
type Limits struct {
	Projects      int
	Tasks         int
	Notes         int
	Events        int
	Notifications int
}

const DefaultLimit = 25

func (l Limits) For(section string) int {
	n := 0
	switch section {
	case tools.SectionProjects:
		n = l.Projects
	case tools.SectionTasks:
		n = l.Tasks
	case tools.SectionNotes:
		n = l.Notes
	case tools.SectionEvents:
		n = l.Events
	case tools.SectionNotifications:
		n = l.Notifications
	}
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// Request describes one pack.
type Request struct {
	AgentID string
	Session domain.Session
	Scope   domain.Scope
	// ReadTools are the read tools the agent may use; only those with a
	// context section contribute.
	ReadTools tools.Set
	Handoff   map[string]any
}

type Builder struct {
	Registry *tools.Registry
	Auth     auth.Service
	Limits   Limits
	Logger   *zap.Logger
	Now      func() time.Time
}

// Build authorizes the request scope, then runs the agent's read tools
// concurrently and gathers their output. Any failing read fails the whole
// pack.
func (b Builder) Build(ctx context.Context, req Request) (Pack, error) {
	scope, project, err := b.Auth.AuthorizeScope(ctx, nil, req.Session, req.Scope)
	if err != nil {
		return Pack{}, err
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	pack := Pack{
		AgentID: req.AgentID,
		UserID:  req.Session.UserID,
		Today:   now().UTC().Format("2006-01-02"),
		Scope:   scope,
		Handoff: req.Handoff,
	}
	if project != nil {
		role, err := b.Auth.ProjectAccess(ctx, nil, req.Session.UserID, project.ID)
		if err != nil {
			return Pack{}, err
		}
		pack.Project = &tools.ProjectView{
			ID: project.ID, Name: project.Name, Description: project.Description, Status: project.Status, Role: role,
		}
	}

	type section struct {
		tool string
		key  string
		data any
	}
	var sections []*section
	for _, name := range req.ReadTools.Names() {
		t, ok := b.Registry.Lookup(name)
		if !ok || t.Phase() != tools.PhaseRead || t.ContextKey() == "" {
			continue
		}
		sections = append(sections, &section{tool: name, key: t.ContextKey()})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sections {
		s := s
		g.Go(func() error {
			env := tools.Env{Session: req.Session, Scope: scope, Limit: b.Limits.For(s.key)}
			res, err := b.Registry.Execute(gctx, env, tools.PhaseRead, req.ReadTools, s.tool, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", s.tool, err)
			}
			s.data = res.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Pack{}, err
	}

	for _, s := range sections {
		switch v := s.data.(type) {
		case []tools.ProjectView:
			pack.Projects = v
		case []tools.TaskView:
			pack.Tasks = v
		case []tools.NoteView:
			pack.Notes = v
		case []tools.EventView:
			pack.Events = v
		case []tools.NotificationView:
			pack.Notifications = v
		}
	}
	logging.OrNop(b.Logger).Debug("context pack built",
		zap.String("agent", req.AgentID),
		zap.String("user", req.Session.UserID),
		zap.Int("projects", len(pack.Projects)),
		zap.Int("tasks", len(pack.Tasks)),
		zap.Int("notes", len(pack.Notes)),
		zap.Int("events", len(pack.Events)),
		zap.Int("notifications", len(pack.Notifications)),
	)
	return pack, nil
}
