package sqlite

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/iamwavecut/warden/internal/db"
)

func (c *sqliteClient) AppendAuditLog(ctx context.Context, entry *db.AuditEntry) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO audit_log (chat_id, user_id, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ChatID, entry.UserID, entry.Action, entry.Reason, entry.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "append audit log")
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAuditLog returns the most recent entries for the chat, newest first.
func (c *sqliteClient) ListAuditLog(ctx context.Context, chatID int64, limit int) ([]*db.AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var entries []*db.AuditEntry
	err := c.db.SelectContext(ctx, &entries, `
		SELECT id, chat_id, user_id, action, reason, created_at
		FROM audit_log
		WHERE chat_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list audit log")
	}
	return entries, nil
}
