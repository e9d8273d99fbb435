package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iamwavecut/warden/internal/db"
)

func (c *sqliteClient) AddFilterWord(ctx context.Context, chatID int64, word string) error {
	word = db.NormalizeWord(word)
	if word == "" {
		return errors.New("empty filter word")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO filter_words (chat_id, word) VALUES (?, ?)`, chatID, word)
	return errors.Wrap(err, "add filter word")
}

func (c *sqliteClient) RemoveFilterWord(ctx context.Context, chatID int64, word string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM filter_words WHERE chat_id = ? AND word = ?`, chatID, db.NormalizeWord(word))
	return errors.Wrap(err, "remove filter word")
}

func (c *sqliteClient) ListFilterWords(ctx context.Context, chatID int64) ([]string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var words []string
	if err := c.db.SelectContext(ctx, &words, `SELECT word FROM filter_words WHERE chat_id = ? ORDER BY word`, chatID); err != nil {
		return nil, errors.Wrap(err, "list filter words")
	}
	return words, nil
}
