// Package audit appends entries to the audit log inside the caller's
// transaction, so an entry exists iff the change it describes committed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry describes one audited change.
type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if tx == nil {
		return errors.New("audit entries require a transaction")
	}
	if e.Type == "" || e.EntityKind == "" || e.ActorID == "" {
		return fmt.Errorf("audit entry %q missing type, entity kind or actor", e.Type)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
