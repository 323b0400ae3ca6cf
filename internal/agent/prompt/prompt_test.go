package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairos/internal/agent/contextpack"
	"kairos/internal/agent/tools"
	"kairos/internal/domain"
)

func samplePack() contextpack.Pack {
	return contextpack.Pack{
		AgentID: "tasks",
		UserID:  "user-alice",
		Today:   "2025-03-01",
		Scope:   domain.Scope{OrganizationID: "org-acme", ProjectID: "proj-alice"},
		Tasks:   []tools.TaskView{{ID: "t1", Title: "Book venue", Status: "todo", Priority: "high", UpdatedAt: "2025-03-01T09:00:00.000000000Z"}},
	}
}

func sampleAgent() Agent {
	return Agent{
		ID:          "tasks",
		Name:        "Task Planner",
		Description: "Plans changes to tasks.",
		Rules:       []string{"Prefer updating over duplicating."},
		OutputShape: `{"creates": []}`,
	}
}

func TestRenderSystemIncludesAgentAndContext(t *testing.T) {
	out, err := RenderSystem(sampleAgent(), samplePack())
	require.NoError(t, err)
	assert.Contains(t, out, "You are Task Planner")
	assert.Contains(t, out, "- Prefer updating over duplicating.")
	assert.Contains(t, out, "Today is 2025-03-01.")
	assert.Contains(t, out, `{"creates": []}`)
	assert.Contains(t, out, `"title": "Book venue"`)
	assert.Contains(t, out, `"projectId": "proj-alice"`)
}

func TestRenderSystemIsDeterministic(t *testing.T) {
	a, err := RenderSystem(sampleAgent(), samplePack())
	require.NoError(t, err)
	pack := samplePack()
	pack.Handoff = map[string]any{"z": 1, "a": 2}
	b, err := RenderSystem(sampleAgent(), pack)
	require.NoError(t, err)
	c, err := RenderSystem(sampleAgent(), pack)
	require.NoError(t, err)
	assert.Equal(t, b, c)
	assert.NotEqual(t, a, b)
}

func TestRenderSystemRequiresOutputShape(t *testing.T) {
	agent := sampleAgent()
	agent.OutputShape = " "
	_, err := RenderSystem(agent, samplePack())
	assert.Error(t, err)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Request:\nplan my week", UserMessage("  plan my week \n"))
}
