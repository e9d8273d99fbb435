package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/warden/internal/db"
)

// AppendAuditLog adds the entry to the chat's capped stream. Numeric ids come from a
// global sequence so entries stay comparable with the sqlite backend.
func (c *redisClient) AppendAuditLog(ctx context.Context, entry *db.AuditEntry) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	seq, err := c.rdb.Incr(ctx, c.key("audit", "seq")).Result()
	if err != nil {
		return errors.Wrap(err, "next audit id")
	}
	entry.ID = seq

	values := map[string]any{
		"id":         seq,
		"chat_id":    entry.ChatID,
		"action":     entry.Action,
		"reason":     entry.Reason,
		"created_at": formatTime(entry.CreatedAt),
	}
	if entry.UserID != nil {
		values["user_id"] = *entry.UserID
	}
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.key("audit", id(entry.ChatID)),
		MaxLen: auditStreamMax,
		Approx: true,
		Values: values,
	}).Err()
	return errors.Wrap(err, "append audit log")
}

func (c *redisClient) ListAuditLog(ctx context.Context, chatID int64, limit int) ([]*db.AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := c.rdb.XRevRangeN(ctx, c.key("audit", id(chatID)), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list audit log")
	}

	entries := make([]*db.AuditEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry := &db.AuditEntry{
			ChatID:    chatID,
			Action:    str(msg.Values["action"]),
			Reason:    str(msg.Values["reason"]),
			CreatedAt: parseTime(str(msg.Values["created_at"])),
		}
		entry.ID, _ = strconv.ParseInt(str(msg.Values["id"]), 10, 64)
		if raw, ok := msg.Values["user_id"]; ok {
			if uid, err := strconv.ParseInt(str(raw), 10, 64); err == nil {
				entry.UserID = db.UserRef(uid)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
