package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kairos/internal/config"
	"kairos/internal/domain"
	"kairos/internal/logging"
	"kairos/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts new audit entries to the configured webhooks. Each
// hook keeps its own cursor and starts from the newest entry at first use.
// Draft events carry the draft's current state.
type WebhookDispatcher struct {
	repo     repo.Repo
	hooks    []*hook
	client   *http.Client
	log      *zap.Logger
	interval time.Duration
	mu       sync.Mutex
}

type hook struct {
	cfg      config.WebhookConfig
	events   eventFilter
	projects set
	users    set
	cursor   int64
	started  bool
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, log *zap.Logger) *WebhookDispatcher {
	d := &WebhookDispatcher{
		repo:     r,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      logging.OrNop(log),
		interval: defaultWebhookInterval,
	}
	for _, cfg := range hooks {
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}
		if strings.TrimSpace(cfg.URL) == "" {
			continue
		}
		d.hooks = append(d.hooks, &hook{
			cfg:      cfg,
			events:   newEventFilter(cfg.Events),
			projects: newSet(cfg.Projects),
			users:    newSet(cfg.Users),
		})
	}
	return d
}

// Run dispatches until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.hooks) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll makes one delivery pass over every enabled hook. A hook stops
// at its first failed delivery and retries it on the next pass.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.hooks {
		if err := d.dispatch(ctx, h); err != nil {
			d.log.Warn("webhook delivery stalled", zap.String("url", h.cfg.URL), zap.Int64("cursor", h.cursor), zap.Error(err))
		}
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, h *hook) error {
	if !h.started {
		latest, err := d.repo.LatestAuditID(ctx, "")
		if err != nil {
			return fmt.Errorf("init cursor: %w", err)
		}
		h.cursor, h.started = latest, true
	}
	entries, err := d.repo.AuditAfter(ctx, defaultWebhookBatch, h.cursor, "")
	if err != nil {
		return fmt.Errorf("fetch audit: %w", err)
	}
	for _, evt := range entries {
		if h.events.match(evt.Type) && h.projects.allows(evt.ProjectID) {
			delivery, err := d.delivery(ctx, evt)
			if err != nil {
				return err
			}
			if h.users.allows(delivery.owner()) {
				if err := d.post(ctx, h.cfg, delivery); err != nil {
					return fmt.Errorf("audit %d: %w", evt.ID, err)
				}
			}
		}
		h.cursor = evt.ID
	}
	return nil
}

// Delivery is the JSON body posted to a webhook.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	TS         string          `json:"ts"`
	ProjectID  string          `json:"projectId,omitempty"`
	EntityKind string          `json:"entityKind"`
	EntityID   string          `json:"entityId,omitempty"`
	ActorID    string          `json:"actorId"`
	Payload    json.RawMessage `json:"payload"`
	Draft      *DraftState     `json:"draft,omitempty"`
}

// DraftState is the draft behind a draft.* event at delivery time.
type DraftState struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	PlanHash  string `json:"planHash"`
	ProjectID string `json:"projectId,omitempty"`
}

// owner is the user a delivery concerns: the draft's author for draft events,
// so sweeper expiries still reach the author's hooks.
func (d Delivery) owner() string {
	if d.Draft != nil {
		return d.Draft.UserID
	}
	return d.ActorID
}

func (d *WebhookDispatcher) delivery(ctx context.Context, evt domain.AuditEvent) (Delivery, error) {
	out := Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		TS:         evt.TS,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    json.RawMessage(`{}`),
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		out.Payload = json.RawMessage(evt.Payload)
	}
	if evt.EntityKind != "draft" || evt.EntityID == "" {
		return out, nil
	}
	dr, err := d.repo.GetDraft(ctx, nil, evt.EntityID)
	if errors.Is(err, repo.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load draft %s: %w", evt.EntityID, err)
	}
	out.Draft = &DraftState{
		ID:        dr.ID,
		AgentID:   dr.AgentID,
		UserID:    dr.UserID,
		Status:    string(dr.Status),
		PlanHash:  dr.PlanHash,
		ProjectID: dr.Scope.ProjectID,
	}
	return out, nil
}

func (d *WebhookDispatcher) post(ctx context.Context, cfg config.WebhookConfig, delivery Delivery) error {
	body, err := json.Marshal(delivery)
	if err != nil {
		return err
	}
	client := d.client
	if cfg.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kairos-Event", delivery.Type)
	req.Header.Set("X-Kairos-Delivery", strconv.FormatInt(delivery.ID, 10))
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		req.Header.Set("X-Kairos-Signature", Sign(secret, body))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Sign returns the X-Kairos-Signature value for body: "sha256=" followed by
// the hex HMAC-SHA256 under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type set map[string]struct{}

func newSet(items []string) set {
	s := set{}
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			s[item] = struct{}{}
		}
	}
	return s
}

// allows reports whether v is in s; an empty set allows everything.
func (s set) allows(v string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[v]
	return ok
}

type eventFilter struct {
	types set
}

func newEventFilter(events []string) eventFilter {
	return eventFilter{types: newSet(events)}
}

// match accepts exact types and prefix patterns such as "draft.*".
func (f eventFilter) match(evt string) bool {
	if f.types.allows(evt) {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.types[evt[:i]+".*"]
		return ok
	}
	return false
}
