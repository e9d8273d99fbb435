package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

func (c *sqliteClient) GetInfractionCount(ctx context.Context, chatID, userID int64) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	err := c.db.GetContext(ctx, &count, `SELECT count FROM infractions WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "get infraction count")
	}
	return count, nil
}

func (c *sqliteClient) SetInfractionCount(ctx context.Context, chatID, userID int64, count int) error {
	if count < 0 {
		return errors.Errorf("negative infraction count %d", count)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO infractions (chat_id, user_id, count, last_warn_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			count = excluded.count,
			last_warn_at = excluded.last_warn_at
	`, chatID, userID, count, time.Now().UTC())
	return errors.Wrap(err, "set infraction count")
}

// IncrementInfraction bumps the counter in a single statement and returns the new value.
func (c *sqliteClient) IncrementInfraction(ctx context.Context, chatID, userID int64) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var count int
	err := c.db.GetContext(ctx, &count, `
		INSERT INTO infractions (chat_id, user_id, count, last_warn_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			count = infractions.count + 1,
			last_warn_at = excluded.last_warn_at
		RETURNING count
	`, chatID, userID, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "increment infraction")
	}
	return count, nil
}

func (c *sqliteClient) DeleteInfraction(ctx context.Context, chatID, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM infractions WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return errors.Wrap(err, "delete infraction")
}
