package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kairos/internal/config"
	"kairos/internal/transport"
)

func TestLoadConfigReadsSecretsFromEnv(t *testing.T) {
	t.Setenv("KAIROS_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("KAIROS_ANTHROPIC_API_KEY", "sk-ant")
	workspace := t.TempDir()
	yml := "model:\n  provider: anthropic\n  name: claude-test\n"
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "kairos.yml"), []byte(yml), 0o644))

	cfg, err := LoadConfig(workspace, NewEnv())
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Drafts.TokenSecret)
	assert.Equal(t, "sk-ant", cfg.Model.APIKey)
	assert.Equal(t, 15*time.Minute, cfg.Drafts.TTL)
}

func TestOrchestratorNeedsTokenSecret(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), Logger: zap.NewNop(), Transport: transport.NewScripted()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Orchestrator(ctx)
	assert.ErrorContains(t, err, "KAIROS_TOKEN_SECRET")

	a.Config.Drafts.TokenSecret = "0123456789abcdef0123456789abcdef"
	orch, err := a.Orchestrator(ctx)
	require.NoError(t, err)
	again, err := a.Orchestrator(ctx)
	require.NoError(t, err)
	assert.Same(t, orch, again)
	assert.Len(t, orch.Catalog().List(), 3)
}

func TestOrchestratorOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := OrchestratorOptions(cfg, nil, nil)
	assert.Equal(t, cfg.Drafts.TTL, opts.TTL)
	assert.Equal(t, cfg.Model.Name, opts.Model.Model)
	require.NotNil(t, opts.Model.Temperature)
	assert.InDelta(t, cfg.Model.Temperature, *opts.Model.Temperature, 1e-9)
	assert.Equal(t, cfg.Context.Tasks, opts.Limits.Tasks)
	assert.Equal(t, 2, opts.MaxRepairs)
	assert.False(t, opts.DisableRepair)

	cfg.Drafts.MaxRepairs = 0
	assert.True(t, OrchestratorOptions(cfg, nil, nil).DisableRepair)
}

func TestNewTransport(t *testing.T) {
	ctx := context.Background()
	for _, provider := range []string{"openai", "anthropic"} {
		tr, err := NewTransport(ctx, config.ModelConfig{Provider: provider, Name: "m", APIKey: "k", RatePerMinute: 30, Burst: 2})
		require.NoError(t, err, provider)
		assert.IsType(t, &transport.RateLimited{}, tr)
	}
	_, err := NewTransport(ctx, config.ModelConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
