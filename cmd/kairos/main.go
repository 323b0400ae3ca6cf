package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kairos/internal/agent"
	"kairos/internal/app"
	"kairos/internal/config"
	"kairos/internal/db"
	"kairos/internal/domain"
	"kairos/internal/engine"
	"kairos/internal/migrate"
	"kairos/internal/repo"
	"kairos/internal/server"
)

// env holds flags and KAIROS_* variables.
var env = app.NewEnv()

var rootCmd = &cobra.Command{
	Use:   "kairos",
	Short: "Kairos agent CLI",
	Long: `Kairos lets AI agents propose changes to your projects, tasks, notes and
calendar without ever writing on their own.
- Draft: an agent reads your workspace and proposes a plan. Nothing changes yet.
- Confirm: you review the summary and receive a confirmation token.
- Apply: the token authorizes writing exactly the confirmed plan, all or nothing.
Drafts expire after a while; the audit log records every step ('kairos log tail').`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "acting user id")
	rootCmd.PersistentFlags().String("org", "", "active organization id")
	for _, name := range []string{"workspace", "json", "user", "org"} {
		_ = env.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func session() domain.Session {
	return domain.Session{UserID: env.GetString("user"), ActiveOrganizationID: env.GetString("org")}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create kairos.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := env.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists (use --force to overwrite)\n", path)
			} else if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			} else {
				fmt.Printf("wrote %s\n", path)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("database ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing kairos.yml")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: env.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				orch, err := a.Orchestrator(ctx)
				if err != nil {
					return err
				}
				authCfg := server.AuthConfig{JWTSecret: env.GetString(app.EnvJWTSecret), AllowDevHeader: devAuth, Logger: a.Logger}
				if authCfg.JWTSecret == "" && !devAuth {
					return fmt.Errorf("KAIROS_JWT_SECRET is required for bearer auth (or pass --dev-auth)")
				}
				handler, err := server.New(server.Config{
					Orchestrator: orch,
					Repo:         a.Engine.Repo,
					Metrics:      a.Metrics,
					BasePath:     basePath,
					Auth:         authCfg,
					Logger:       a.Logger,
				})
				if err != nil {
					return err
				}
				go server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger).Run(ctx)
				go sweep(ctx, orch, a.Config.Drafts.SweepInterval, a.Logger)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving Kairos API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Kairos API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", server.DefaultBasePath, "API base path")
	cmd.Flags().BoolVar(&devAuth, "dev-auth", false, "accept X-User-Id without credentials (local use only)")
	return cmd
}

// sweep expires stale drafts every interval until ctx is done.
func sweep(ctx context.Context, orch *agent.Orchestrator, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.ExpireStale(ctx, 500); err != nil && ctx.Err() == nil {
				log.Warn("draft sweep failed", zap.Error(err))
			}
		}
	}
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Inspect agents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents and their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				profiles := orch.Catalog().List()
				if env.GetBool("json") {
					type row struct {
						ID         string   `json:"id"`
						Name       string   `json:"name"`
						ReadTools  []string `json:"readTools"`
						ApplyTools []string `json:"applyTools"`
					}
					rows := make([]row, 0, len(profiles))
					for _, p := range profiles {
						rows = append(rows, row{p.ID, p.Name, p.ReadTools.Names(), p.ApplyTools.Names()})
					}
					return printJSON(rows)
				}
				tw := newTable("ID", "Name", "Read tools", "Apply tools")
				for _, p := range profiles {
					tw.AppendRow(table.Row{p.ID, p.Name, len(p.ReadTools), len(p.ApplyTools)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectShareCmd())
	cmd.AddCommand(projectListCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s := session()
				if s.ActiveOrganizationID != "" {
					if err := a.Engine.EnsureOrg(ctx, nil, s.ActiveOrganizationID, "", s.UserID); err != nil {
						return err
					}
				}
				p, err := a.Engine.CreateProject(ctx, nil, engine.ProjectCreateOptions{
					ID: id, OrgID: s.ActiveOrganizationID, Name: name, Description: desc, ActorID: s.UserID,
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShareCmd() *cobra.Command {
	var with string
	cmd := &cobra.Command{
		Use:   "share <project-id>",
		Short: "Add a collaborator to a project you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.ShareProject(ctx, nil, args[0], with, env.GetString("user")); err != nil {
					return err
				}
				fmt.Printf("shared %s with %s\n", args[0], with)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "user id to add")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects visible to --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s := session()
				items, err := a.Engine.Repo.ListProjects(ctx, nil, repo.ProjectFilters{UserID: s.UserID, OrgID: s.ActiveOrganizationID})
				if err != nil {
					return err
				}
				if env.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Org", "Owner", "Status")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OrgID, p.OwnerID, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --user; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := make([]byte, 24)
				if _, err := rand.Read(secret); err != nil {
					return err
				}
				plain := "kai_" + hex.EncodeToString(secret)
				user := env.GetString("user")
				now := repo.FormatTime(time.Now())
				key := domain.APIKey{ID: uuid.NewString(), UserID: user, Name: name, KeyHash: repo.HashAPIKey(plain), CreatedAt: now}
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := a.Engine.Repo.EnsureUser(ctx, tx, user, "", now); err != nil {
					return err
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "user_id": user, "key": plain})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.AddCommand(create)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every draft transition and every applied change, newest first.",
	}
	var f repo.AuditFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Repo.LatestAudit(ctx, f)
				if err != nil {
					return err
				}
				if env.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Project")
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.ProjectID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of entries")
	tail.Flags().StringVar(&f.Type, "type", "", "entry type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	tail.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.AddCommand(tail)
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: env.GetString("workspace"), Env: env})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withOrchestrator(ctx context.Context, fn func(context.Context, *app.App, *agent.Orchestrator) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		orch, err := a.Orchestrator(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, a, orch)
	})
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
