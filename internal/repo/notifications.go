package repo

import (
	"context"
	"database/sql"
	"errors"

	"kairos/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,user_id,kind,message,entity_kind,entity_id,read_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Kind, n.Message, nullable(n.EntityKind), nullable(n.EntityID), nullableStringPtr(n.ReadAt), n.CreatedAt)
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (r Repo) ListNotifications(ctx context.Context, tx *sql.Tx, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	query := `SELECT id,user_id,kind,message,entity_kind,entity_id,read_at,created_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query, args = limitClause(query+` ORDER BY created_at DESC, id DESC`, args, limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var entityKind, entityID, readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &entityKind, &entityID, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.EntityKind = entityKind.String
		n.EntityID = entityID.String
		n.ReadAt = optionalString(readAt)
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, tx *sql.Tx, userID, id, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE id=? AND user_id=? AND read_at IS NULL`, now, id, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
