package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"kairos/internal/agent"
	"kairos/internal/app"
	"kairos/internal/domain"
)

func draftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Draft, confirm and apply agent plans",
	}
	cmd.AddCommand(draftCreateCmd())
	cmd.AddCommand(draftListCmd())
	cmd.AddCommand(draftShowCmd())
	cmd.AddCommand(draftConfirmCmd())
	cmd.AddCommand(draftApplyCmd())
	cmd.AddCommand(draftExpireCmd())
	return cmd
}

func draftCreateCmd() *cobra.Command {
	var agentID, projectID string
	cmd := &cobra.Command{
		Use:   "create <message>",
		Short: "Ask an agent for a plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				out, err := orch.Draft(ctx, agent.DraftInput{
					AgentID: agentID,
					Session: session(),
					Message: strings.Join(args, " "),
					Scope:   domain.Scope{ProjectID: projectID},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "tasks", "agent id")
	cmd.Flags().StringVar(&projectID, "project", "", "scope the draft to a project")
	return cmd
}

func draftListCmd() *cobra.Command {
	var f agent.ListFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				f.Status = domain.DraftStatus(status)
				drafts, err := orch.List(ctx, session(), f)
				if err != nil {
					return err
				}
				if env.GetBool("json") {
					return printJSON(drafts)
				}
				tw := newTable("ID", "Agent", "Status", "Project", "Expires", "Message")
				for _, d := range drafts {
					tw.AppendRow(table.Row{d.ID, d.AgentID, d.Status, d.Scope.ProjectID, d.ExpiresAt.Format("2006-01-02 15:04:05Z07:00"), truncate(d.Message, 40)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, confirmed, applied, expired, failed)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum drafts")
	return cmd
}

func draftShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a draft with its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				d, err := orch.Get(ctx, session(), args[0])
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func draftConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <draft-id>",
		Short: "Review a draft and receive its confirmation token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				out, err := orch.Confirm(ctx, agent.ConfirmInput{Session: session(), DraftID: args[0]})
				if err != nil {
					return err
				}
				if env.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable("Action", "Entity", "Ref", "Title", "Detail")
				for _, item := range out.Summary.Items {
					tw.AppendRow(table.Row{item.Action, item.Entity, item.Ref, item.Title, item.Detail})
				}
				tw.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d create, %d update, %d delete", out.Summary.Creates, out.Summary.Updates, out.Summary.Deletes)})
				tw.Render()
				fmt.Printf("\nApply before %s with:\n  kairos draft apply %s --token %s\n", out.ExpiresAt.Format("15:04:05Z07:00"), args[0], out.ConfirmationToken)
				return nil
			})
		},
	}
}

func draftApplyCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "apply <draft-id>",
		Short: "Apply a confirmed draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				out, err := orch.Apply(ctx, agent.ApplyInput{Session: session(), DraftID: args[0], ConfirmationToken: token})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "confirmation token from draft confirm")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func draftExpireCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire open drafts past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, _ *app.App, orch *agent.Orchestrator) error {
				n, err := orch.ExpireStale(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d draft(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum drafts to expire")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
