package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/iamwavecut/warden/internal/db"
)

const challengeColumns = `chat_id, user_id, nonce, message_id, state, issued_at, expires_at`

func (c *sqliteClient) UpsertChallenge(ctx context.Context, challenge *db.Challenge) error {
	if challenge == nil {
		return errors.New("nil challenge")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO join_challenges (`+challengeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			nonce = excluded.nonce,
			message_id = excluded.message_id,
			state = excluded.state,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`,
		challenge.ChatID,
		challenge.UserID,
		challenge.Nonce,
		challenge.MessageID,
		challenge.State,
		challenge.IssuedAt.UTC(),
		challenge.ExpiresAt.UTC(),
	)
	return errors.Wrap(err, "upsert challenge")
}

// GetChallenge returns db.ErrNotFound when the joiner has no record.
func (c *sqliteClient) GetChallenge(ctx context.Context, chatID, userID int64) (*db.Challenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var challenge db.Challenge
	err := c.db.GetContext(ctx, &challenge, `
		SELECT `+challengeColumns+`
		FROM join_challenges
		WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get challenge")
	}
	return &challenge, nil
}

func (c *sqliteClient) DeleteChallenge(ctx context.Context, chatID, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM join_challenges WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return errors.Wrap(err, "delete challenge")
}

// GetExpiredChallenges lists pending challenges whose deadline is not after now.
func (c *sqliteClient) GetExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var challenges []*db.Challenge
	err := c.db.SelectContext(ctx, &challenges, `
		SELECT `+challengeColumns+`
		FROM join_challenges
		WHERE expires_at <= ? AND state IN (?, ?)
		ORDER BY expires_at
	`, now.UTC(), db.ChallengeRestricted, db.ChallengeAwaitingVerification)
	if err != nil {
		return nil, errors.Wrap(err, "get expired challenges")
	}
	return challenges, nil
}
