package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kairos/internal/agent/canon"
	"kairos/internal/agent/contextpack"
	"kairos/internal/agent/plan"
	"kairos/internal/agent/prompt"
	"kairos/internal/agent/repair"
	"kairos/internal/agent/tools"
	"kairos/internal/apperr"
	"kairos/internal/audit"
	"kairos/internal/domain"
	"kairos/internal/engine"
	"kairos/internal/engine/auth"
	"kairos/internal/logging"
	"kairos/internal/metrics"
	"kairos/internal/repo"
	"kairos/internal/transport"
)

const (
	DefaultTTL = 15 * time.Minute
	// SystemActor is recorded as the actor of sweeper expiries.
	SystemActor = "system"
)

// Options tune an Orchestrator. Zero values take defaults.
type Options struct {
	TTL time.Duration
	// MaxRepairs defaults to repair.DefaultMaxRepairs.
	MaxRepairs int
	// DisableRepair fails a draft on the first invalid model output.
	DisableRepair bool
	Model         transport.Options
	Limits        contextpack.Limits
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Tracer        trace.Tracer
}

type Orchestrator struct {
	engine    engine.Engine
	catalog   *Catalog
	registry  *tools.Registry
	context   contextpack.Builder
	transport transport.Transport
	tokens    TokenIssuer
	ttl       time.Duration
	repairs   int
	model     transport.Options
	log       *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// New wires an Orchestrator. The engine's clock drives expiry, tokens and
// context packs.
func New(eng engine.Engine, catalog *Catalog, reg *tools.Registry, tr transport.Transport, tokens TokenIssuer, opts Options) *Orchestrator {
	now := eng.Now
	if now == nil {
		now = time.Now
	}
	if tokens.Now == nil {
		tokens.Now = now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	repairs := opts.MaxRepairs
	switch {
	case opts.DisableRepair:
		repairs = 0
	case repairs <= 0:
		repairs = repair.DefaultMaxRepairs
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("kairos/agent")
	}
	log := logging.OrNop(opts.Logger)
	return &Orchestrator{
		engine:    eng,
		catalog:   catalog,
		registry:  reg,
		context:   contextpack.Builder{Registry: reg, Auth: eng.Auth, Limits: opts.Limits, Logger: log, Now: now},
		transport: tr,
		tokens:    tokens,
		ttl:       ttl,
		repairs:   repairs,
		model:     opts.Model,
		log:       log,
		metrics:   opts.Metrics,
		tracer:    tracer,
		now:       now,
	}
}

func (o *Orchestrator) Catalog() *Catalog { return o.catalog }

type DraftInput struct {
	AgentID string
	Session domain.Session
	Message string
	Scope   domain.Scope
	Handoff map[string]any
}

type DraftOutput struct {
	DraftID     string          `json:"draftId"`
	AgentID     string          `json:"agentId"`
	Plan        json.RawMessage `json:"plan"`
	PlanHash    string          `json:"planHash"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	RepairCount int             `json:"repairCount"`
}

// Draft asks the agent's model for a plan and stores it. Nothing is stored
// unless the plan validates and ctx is still live.
func (o *Orchestrator) Draft(ctx context.Context, in DraftInput) (out DraftOutput, err error) {
	ctx, span := o.tracer.Start(ctx, "agent.Draft", trace.WithAttributes(attribute.String("agent_id", in.AgentID)))
	defer func() {
		o.metrics.Draft(in.AgentID, outcome(err))
		o.finish(span, "draft", err)
	}()

	if err := auth.RequireSession(in.Session); err != nil {
		return out, err
	}
	profile, ok := o.catalog.Get(in.AgentID)
	if !ok {
		return out, apperr.New(apperr.NotFound, "agent %s not found", in.AgentID)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return out, apperr.New(apperr.InvalidInput, "message is required")
	}

	pack, err := o.context.Build(ctx, contextpack.Request{
		AgentID:   profile.ID,
		Session:   in.Session,
		Scope:     in.Scope,
		ReadTools: profile.ReadTools,
		Handoff:   in.Handoff,
	})
	if err != nil {
		return out, err
	}
	system, err := prompt.RenderSystem(profile.promptAgent(), pack)
	if err != nil {
		return out, err
	}

	opts := o.model
	opts.JSONMode = true
	started := time.Now()
	raw, err := o.transport.Complete(ctx, system, prompt.UserMessage(message), opts)
	o.metrics.ObserveModel(profile.ID, time.Since(started))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, apperr.Wrap(apperr.ModelUnavailable, err, "model unavailable")
	}

	res, err := repair.ParseAndValidate(ctx, repair.Loop{
		Transport:  o.transport,
		MaxRepairs: o.repairs,
		Options:    opts,
		Logger:     o.log.With(zap.String("agent_id", profile.ID)),
	}, raw, profile.Decode)
	o.metrics.Repairs(profile.ID, res.RepairCount)
	span.SetAttributes(attribute.Int("repair_count", res.RepairCount))
	if err != nil {
		return out, err
	}
	canonical, hash, err := canon.MarshalAndHash(res.Value)
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	now := o.now().UTC()
	d := domain.Draft{
		ID:        uuid.NewString(),
		AgentID:   profile.ID,
		UserID:    in.Session.UserID,
		Scope:     pack.Scope,
		Message:   message,
		Plan:      canonical,
		PlanHash:  hash,
		Status:    domain.DraftStatusDraft,
		CreatedAt: now,
		ExpiresAt: now.Add(o.ttl),
	}
	err = o.inTx(ctx, func(tx *sql.Tx) error {
		if err := o.engine.Repo.EnsureUser(ctx, tx, d.UserID, "", repo.FormatTime(now)); err != nil {
			return err
		}
		if err := o.engine.Repo.InsertDraft(ctx, tx, d); err != nil {
			return err
		}
		return o.engine.Audit.Append(ctx, tx, audit.Entry{
			Type: "draft.created", ProjectID: d.Scope.ProjectID, EntityKind: "draft", EntityID: d.ID, ActorID: d.UserID,
			Payload: audit.Payload{
				"agent_id": d.AgentID, "plan_hash": d.PlanHash, "repair_count": res.RepairCount, "prompt_version": prompt.TemplateVersion,
			},
		})
	})
	if err != nil {
		return out, err
	}
	o.metrics.Transition(d.AgentID, string(d.Status))
	o.log.Info("draft created",
		zap.String("agent_id", d.AgentID),
		zap.String("draft_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.Int("repair_count", res.RepairCount),
	)
	return DraftOutput{
		DraftID:     d.ID,
		AgentID:     d.AgentID,
		Plan:        d.Plan,
		PlanHash:    d.PlanHash,
		ExpiresAt:   d.ExpiresAt,
		RepairCount: res.RepairCount,
	}, nil
}

type ConfirmInput struct {
	Session domain.Session
	DraftID string
}

type ConfirmOutput struct {
	ConfirmationToken string       `json:"confirmationToken"`
	Summary           plan.Summary `json:"summary"`
	ExpiresAt         time.Time    `json:"expiresAt"`
}

// Confirm summarizes a draft for the user and hands out the token that
// authorizes applying it.
func (o *Orchestrator) Confirm(ctx context.Context, in ConfirmInput) (out ConfirmOutput, err error) {
	ctx, span := o.tracer.Start(ctx, "agent.Confirm", trace.WithAttributes(attribute.String("draft_id", in.DraftID)))
	defer func() { o.finish(span, "confirm", err) }()

	d, err := o.ownedDraft(ctx, in.Session, in.DraftID)
	if err != nil {
		return out, err
	}
	now := o.now()
	if err := o.checkExpiry(ctx, d, in.Session.UserID, now); err != nil {
		return out, err
	}
	if err := ensureTransition(d.Status, domain.DraftStatusConfirmed); err != nil {
		return out, err
	}
	_, p, err := o.decodeStored(d)
	if err != nil {
		return out, err
	}
	token, err := o.tokens.Issue(d)
	if err != nil {
		return out, err
	}
	err = o.inTx(ctx, func(tx *sql.Tx) error {
		if err := o.transition(ctx, tx, repo.DraftTransition{ID: d.ID, From: domain.DraftStatusDraft, To: domain.DraftStatusConfirmed, At: now}); err != nil {
			return err
		}
		return o.engine.Audit.Append(ctx, tx, audit.Entry{
			Type: "draft.confirmed", ProjectID: d.Scope.ProjectID, EntityKind: "draft", EntityID: d.ID, ActorID: in.Session.UserID,
			Payload: audit.Payload{"agent_id": d.AgentID, "plan_hash": d.PlanHash},
		})
	})
	if err != nil {
		return out, err
	}
	o.metrics.Transition(d.AgentID, string(domain.DraftStatusConfirmed))
	o.log.Info("draft confirmed", zap.String("agent_id", d.AgentID), zap.String("draft_id", d.ID), zap.String("user_id", d.UserID))
	return ConfirmOutput{ConfirmationToken: token, Summary: p.Summary(), ExpiresAt: d.ExpiresAt}, nil
}

// Get returns one of the session's drafts.
func (o *Orchestrator) Get(ctx context.Context, session domain.Session, draftID string) (domain.Draft, error) {
	d, err := o.ownedDraft(ctx, session, draftID)
	if err != nil {
		return d, err
	}
	if isOpen(d.Status) && d.ExpiredAt(o.now()) {
		if ok, err := o.expire(ctx, d, session.UserID, o.now()); err == nil && ok {
			d.Status = domain.DraftStatusExpired
		}
	}
	return d, nil
}

type ListFilter struct {
	AgentID string
	Status  domain.DraftStatus
	Limit   int
}

// List returns the session's drafts, newest first.
func (o *Orchestrator) List(ctx context.Context, session domain.Session, f ListFilter) ([]domain.Draft, error) {
	if err := auth.RequireSession(session); err != nil {
		return nil, err
	}
	if f.Status != "" && !validStatus(f.Status) {
		return nil, apperr.New(apperr.InvalidInput, "unknown draft status %q", f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return o.engine.Repo.ListDrafts(ctx, repo.DraftFilters{UserID: session.UserID, AgentID: f.AgentID, Status: f.Status, Limit: limit})
}

// ExpireStale marks open drafts past their expiry as expired, at most limit
// of them, and returns how many it changed.
func (o *Orchestrator) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := o.now()
	stale, err := o.engine.Repo.StaleDrafts(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range stale {
		ok, err := o.expire(ctx, d, SystemActor, now)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		o.log.Info("expired stale drafts", zap.Int("count", n))
	}
	return n, nil
}

func (o *Orchestrator) ownedDraft(ctx context.Context, session domain.Session, id string) (domain.Draft, error) {
	if err := auth.RequireSession(session); err != nil {
		return domain.Draft{}, err
	}
	d, err := o.engine.Repo.GetDraft(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && d.UserID != session.UserID) {
		return domain.Draft{}, apperr.New(apperr.NotFound, "draft %s not found", id)
	}
	return d, err
}

// checkExpiry reports EXPIRED for an expired draft, first marking an open
// draft that has run out of time.
func (o *Orchestrator) checkExpiry(ctx context.Context, d domain.Draft, actor string, now time.Time) error {
	if d.Status == domain.DraftStatusExpired {
		return apperr.New(apperr.Expired, "draft %s expired", d.ID)
	}
	if !isOpen(d.Status) || !d.ExpiredAt(now) {
		return nil
	}
	if _, err := o.expire(ctx, d, actor, now); err != nil {
		o.log.Warn("marking draft expired", zap.String("draft_id", d.ID), zap.Error(err))
	}
	return apperr.New(apperr.Expired, "draft %s expired", d.ID)
}

// expire moves an open draft to expired. It reports false when another
// request changed the draft first.
func (o *Orchestrator) expire(ctx context.Context, d domain.Draft, actor string, now time.Time) (bool, error) {
	changed := false
	err := o.inTx(ctx, func(tx *sql.Tx) error {
		err := o.engine.Repo.TransitionDraft(ctx, tx, repo.DraftTransition{ID: d.ID, From: d.Status, To: domain.DraftStatusExpired, At: now})
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		changed = true
		return o.engine.Audit.Append(ctx, tx, audit.Entry{
			Type: "draft.expired", ProjectID: d.Scope.ProjectID, EntityKind: "draft", EntityID: d.ID, ActorID: actor,
			Payload: audit.Payload{"agent_id": d.AgentID, "from_status": string(d.Status)},
		})
	})
	if err == nil && changed {
		o.metrics.Transition(d.AgentID, string(domain.DraftStatusExpired))
	}
	return changed, err
}

// transition is TransitionDraft with conflicts reported as INVALID_STATE.
func (o *Orchestrator) transition(ctx context.Context, tx *sql.Tx, t repo.DraftTransition) error {
	if err := ensureTransition(t.From, t.To); err != nil {
		return err
	}
	err := o.engine.Repo.TransitionDraft(ctx, tx, t)
	if errors.Is(err, repo.ErrConflict) {
		return apperr.Wrap(apperr.InvalidState, err, "draft %s is no longer %s", t.ID, t.From)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, err, "draft %s not found", t.ID)
	}
	return err
}

// decodeStored re-decodes a stored plan with its agent's decoder.
func (o *Orchestrator) decodeStored(d domain.Draft) (Profile, plan.Plan, error) {
	profile, ok := o.catalog.Get(d.AgentID)
	if !ok {
		return Profile{}, nil, apperr.New(apperr.NotFound, "agent %s not found", d.AgentID)
	}
	p, err := profile.Decode(d.Plan)
	if err != nil {
		return Profile{}, nil, apperr.Wrap(apperr.Internal, err, "stored plan of draft %s is unreadable", d.ID)
	}
	return profile, p, nil
}

func (o *Orchestrator) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := o.engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (o *Orchestrator) finish(span trace.Span, operation string, err error) {
	if err != nil {
		kind := apperr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		o.metrics.Error(operation, string(kind))
		o.log.Debug(operation+" failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	span.End()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

func isOpen(s domain.DraftStatus) bool {
	return s == domain.DraftStatusDraft || s == domain.DraftStatusConfirmed
}

func validStatus(s domain.DraftStatus) bool {
	switch s {
	case domain.DraftStatusDraft, domain.DraftStatusConfirmed, domain.DraftStatusApplied, domain.DraftStatusExpired, domain.DraftStatusFailed:
		return true
	}
	return false
}
