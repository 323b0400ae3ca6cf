package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kairos/internal/agent/canon"
	"kairos/internal/agent/plan"
	"kairos/internal/agent/tools"
	"kairos/internal/apperr"
	"kairos/internal/audit"
	"kairos/internal/domain"
	"kairos/internal/repo"
)

type ApplyInput struct {
	Session           domain.Session
	DraftID           string
	ConfirmationToken string
}

type ApplyOutput struct {
	Applied bool                `json:"applied"`
	Results map[string][]string `json:"results"`
}

// stepError locates a failed plan step.
type stepError struct {
	index int
	step  plan.Step
	err   error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %d (%s %s): %v", e.index, e.step.Tool, e.step.Ref, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

// Apply writes a confirmed draft's plan in one transaction. Any failing step
// rolls back the whole plan. Failures that cannot succeed on retry mark the
// draft failed; others leave it confirmed so the same token can be reused.
func (o *Orchestrator) Apply(ctx context.Context, in ApplyInput) (out ApplyOutput, err error) {
	ctx, span := o.tracer.Start(ctx, "agent.Apply", trace.WithAttributes(attribute.String("draft_id", in.DraftID)))
	defer func() { o.finish(span, "apply", err) }()

	d, err := o.ownedDraft(ctx, in.Session, in.DraftID)
	if err != nil {
		return out, err
	}
	now := o.now()
	if err := o.checkExpiry(ctx, d, in.Session.UserID, now); err != nil {
		return out, err
	}
	if err := ensureTransition(d.Status, domain.DraftStatusApplied); err != nil {
		return out, err
	}
	recomputed, err := canon.Hash(d.Plan)
	if err != nil {
		return out, apperr.Wrap(apperr.TokenMismatch, err, "stored plan of draft %s cannot be hashed", d.ID)
	}
	if err := o.tokens.Verify(in.ConfirmationToken, d, recomputed); err != nil {
		return out, err
	}
	scope, _, err := o.engine.Auth.AuthorizeScope(ctx, nil, in.Session, d.Scope)
	if err != nil {
		return out, err
	}
	profile, p, err := o.decodeStored(d)
	if err != nil {
		return out, err
	}

	started := time.Now()
	results, err := o.applySteps(ctx, d, profile, p, tools.Env{Session: in.Session, Scope: scope, DraftID: d.ID}, now)
	o.metrics.ObserveApply(profile.ID, time.Since(started))
	if err != nil {
		return out, o.applyFailed(ctx, d, in.Session.UserID, err)
	}
	o.metrics.Transition(d.AgentID, string(domain.DraftStatusApplied))
	o.log.Info("draft applied",
		zap.String("agent_id", d.AgentID),
		zap.String("draft_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.Int("steps", len(p.Steps())),
	)
	return ApplyOutput{Applied: true, Results: results}, nil
}

func (o *Orchestrator) applySteps(ctx context.Context, d domain.Draft, profile Profile, p plan.Plan, env tools.Env, now time.Time) (map[string][]string, error) {
	results := map[string][]string{}
	err := o.inTx(ctx, func(tx *sql.Tx) error {
		err := o.transition(ctx, tx, repo.DraftTransition{ID: d.ID, From: domain.DraftStatusConfirmed, To: domain.DraftStatusApplied, At: now})
		if err != nil {
			return err
		}
		env.Tx = tx
		steps := p.Steps()
		for i, step := range steps {
			res, err := o.registry.Execute(ctx, env, tools.PhaseWrite, profile.ApplyTools, step.Tool, step.Input)
			if err != nil {
				return &stepError{index: i, step: step, err: err}
			}
			if res.ResultKey != "" && res.EntityID != "" {
				results[res.ResultKey] = append(results[res.ResultKey], res.EntityID)
			}
		}
		encoded, err := json.Marshal(results)
		if err != nil {
			return err
		}
		if err := o.engine.Repo.SetDraftResult(ctx, tx, d.ID, encoded); err != nil {
			return err
		}
		if _, err := o.engine.Notify(ctx, tx, domain.Notification{
			UserID:     d.UserID,
			Kind:       "draft.applied",
			Message:    fmt.Sprintf("%s applied %d change(s).", profile.Name, len(steps)),
			EntityKind: "draft",
			EntityID:   d.ID,
		}); err != nil {
			return err
		}
		return o.engine.Audit.Append(ctx, tx, audit.Entry{
			Type: "draft.applied", ProjectID: d.Scope.ProjectID, EntityKind: "draft", EntityID: d.ID, ActorID: env.Session.UserID,
			Payload: audit.Payload{"agent_id": d.AgentID, "plan_hash": d.PlanHash, "results": results},
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// applyFailed classifies an apply failure. Only step failures can mark the
// draft failed; a lost status race is reported as it is.
func (o *Orchestrator) applyFailed(ctx context.Context, d domain.Draft, actor string, err error) error {
	se, ok := err.(*stepError)
	if !ok {
		return err
	}
	kind := apperr.KindOf(se.err)
	if !retriable(kind) {
		if markErr := o.markFailed(ctx, d, actor, se.Error()); markErr != nil {
			o.log.Warn("marking draft failed", zap.String("draft_id", d.ID), zap.Error(markErr))
		}
	}
	switch kind {
	case apperr.ToolNotAllowed, apperr.InvalidInput:
		return apperr.Wrap(kind, se, "step %d (%s): %s", se.index, se.step.Tool, apperr.MessageOf(se.err))
	}
	return apperr.Wrap(apperr.ApplyFailed, se, "step %d (%s) failed: %s", se.index, se.step.Tool, apperr.MessageOf(se.err))
}

func retriable(kind apperr.Kind) bool {
	switch kind {
	case apperr.NotFound, apperr.Forbidden, apperr.InvalidInput, apperr.ToolNotAllowed:
		return false
	}
	return true
}

func (o *Orchestrator) markFailed(ctx context.Context, d domain.Draft, actor, reason string) error {
	err := o.inTx(ctx, func(tx *sql.Tx) error {
		err := o.transition(ctx, tx, repo.DraftTransition{
			ID: d.ID, From: domain.DraftStatusConfirmed, To: domain.DraftStatusFailed, At: o.now(), FailureReason: reason,
		})
		if err != nil {
			return err
		}
		return o.engine.Audit.Append(ctx, tx, audit.Entry{
			Type: "draft.failed", ProjectID: d.Scope.ProjectID, EntityKind: "draft", EntityID: d.ID, ActorID: actor,
			Payload: audit.Payload{"agent_id": d.AgentID, "reason": reason},
		})
	})
	if err == nil {
		o.metrics.Transition(d.AgentID, string(domain.DraftStatusFailed))
	}
	return err
}
