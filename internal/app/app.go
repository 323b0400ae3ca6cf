// Package app wires configuration, storage, the model transport and the
// orchestrator into one process-wide value shared by the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"kairos/internal/agent"
	"kairos/internal/agent/contextpack"
	"kairos/internal/agent/tools"
	"kairos/internal/config"
	"kairos/internal/db"
	"kairos/internal/engine"
	"kairos/internal/logging"
	"kairos/internal/metrics"
	"kairos/internal/migrate"
	"kairos/internal/transport"
	"kairos/internal/transport/anthropic"
	"kairos/internal/transport/gemini"
	"kairos/internal/transport/openai"
)

// Environment keys, read through viper with the KAIROS_ prefix.
const (
	EnvTokenSecret = "token_secret"
	EnvJWTSecret   = "jwt_secret"
)

// NewEnv returns a viper instance reading KAIROS_* variables.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("KAIROS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads kairos.yml from workspace (defaults when absent) and fills
// the secrets that never live in the file.
func LoadConfig(workspace string, env *viper.Viper) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if env != nil {
		cfg.Drafts.TokenSecret = env.GetString(EnvTokenSecret)
		cfg.Model.APIKey = env.GetString(cfg.Model.Provider + "_api_key")
	}
	return cfg, nil
}

type Options struct {
	Workspace string
	Env       *viper.Viper
	Logger    *zap.Logger
	// Transport replaces the configured model provider when set.
	Transport transport.Transport
}

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	transport transport.Transport
	orch      *agent.Orchestrator
}

// Open loads config, opens and migrates the workspace database.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.Env)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		if log, err = logging.New(cfg.Logging); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn),
		Logger:    log,
		Metrics:   metrics.New(),
		transport: opts.Transport,
	}, nil
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.DB.Close()
}

// Orchestrator builds the orchestrator on first use. It needs the token
// secret and a model transport, which plain store commands do not.
func (a *App) Orchestrator(ctx context.Context) (*agent.Orchestrator, error) {
	if a.orch != nil {
		return a.orch, nil
	}
	if a.Config.Drafts.TokenSecret == "" {
		return nil, errors.New("KAIROS_TOKEN_SECRET is required to confirm and apply drafts")
	}
	tokens, err := agent.NewTokenIssuer([]byte(a.Config.Drafts.TokenSecret))
	if err != nil {
		return nil, err
	}
	reg, err := tools.Builtin(a.Engine)
	if err != nil {
		return nil, err
	}
	catalog, err := agent.DefaultCatalog(reg)
	if err != nil {
		return nil, err
	}
	tr := a.transport
	if tr == nil {
		if tr, err = NewTransport(ctx, a.Config.Model); err != nil {
			return nil, err
		}
	}
	a.orch = agent.New(a.Engine, catalog, reg, tr, tokens, OrchestratorOptions(a.Config, a.Logger, a.Metrics))
	return a.orch, nil
}

// OrchestratorOptions maps config onto agent.Options.
func OrchestratorOptions(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) agent.Options {
	temp := cfg.Model.Temperature
	return agent.Options{
		TTL:           cfg.Drafts.TTL,
		MaxRepairs:    cfg.Drafts.MaxRepairs,
		DisableRepair: cfg.Drafts.MaxRepairs == 0,
		Model: transport.Options{
			Model:       cfg.Model.Name,
			Temperature: &temp,
			MaxTokens:   cfg.Model.MaxTokens,
		},
		Limits: contextpack.Limits{
			Projects:      cfg.Context.Projects,
			Tasks:         cfg.Context.Tasks,
			Notes:         cfg.Context.Notes,
			Events:        cfg.Context.Events,
			Notifications: cfg.Context.Notifications,
		},
		Logger:  log,
		Metrics: m,
	}
}

// NewTransport builds the configured provider behind the rate limiter.
func NewTransport(ctx context.Context, m config.ModelConfig) (transport.Transport, error) {
	var next transport.Transport
	switch m.Provider {
	case "openai":
		next = openai.New(m.APIKey, m.Name)
	case "anthropic":
		next = anthropic.New(m.APIKey, m.Name)
	case "gemini":
		g, err := gemini.New(ctx, m.APIKey, m.Name)
		if err != nil {
			return nil, err
		}
		next = g
	default:
		return nil, fmt.Errorf("unknown model provider %q", m.Provider)
	}
	return transport.NewRateLimited(next, int(m.RatePerMinute), m.Burst, m.Timeout), nil
}
