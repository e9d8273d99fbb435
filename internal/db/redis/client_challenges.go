package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/warden/internal/db"
)

func member(chatID, userID int64) string {
	return id(chatID) + ":" + id(userID)
}

func (c *redisClient) challengeKey(chatID, userID int64) string {
	return c.key("challenge", id(chatID), id(userID))
}

func (c *redisClient) expiryKey() string {
	return c.key("challenges", "expiry")
}

func (c *redisClient) UpsertChallenge(ctx context.Context, challenge *db.Challenge) error {
	if challenge == nil {
		return errors.New("nil challenge")
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.challengeKey(challenge.ChatID, challenge.UserID), map[string]any{
			"nonce":      challenge.Nonce,
			"message_id": challenge.MessageID,
			"state":      string(challenge.State),
			"issued_at":  formatTime(challenge.IssuedAt),
			"expires_at": formatTime(challenge.ExpiresAt),
		})
		// only pending challenges stay in the expiry index
		if !challenge.Pending() {
			pipe.ZRem(ctx, c.expiryKey(), member(challenge.ChatID, challenge.UserID))
			return nil
		}
		pipe.ZAdd(ctx, c.expiryKey(), redis.Z{
			Score:  float64(challenge.ExpiresAt.UnixMilli()),
			Member: member(challenge.ChatID, challenge.UserID),
		})
		return nil
	})
	return errors.Wrap(err, "upsert challenge")
}

func (c *redisClient) GetChallenge(ctx context.Context, chatID, userID int64) (*db.Challenge, error) {
	fields, err := c.rdb.HGetAll(ctx, c.challengeKey(chatID, userID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get challenge")
	}
	if len(fields) == 0 {
		return nil, db.ErrNotFound
	}
	return decodeChallenge(chatID, userID, fields), nil
}

func decodeChallenge(chatID, userID int64, fields map[string]string) *db.Challenge {
	challenge := &db.Challenge{
		ChatID:    chatID,
		UserID:    userID,
		Nonce:     fields["nonce"],
		State:     db.ChallengeState(fields["state"]),
		IssuedAt:  parseTime(fields["issued_at"]),
		ExpiresAt: parseTime(fields["expires_at"]),
	}
	challenge.MessageID, _ = strconv.Atoi(fields["message_id"])
	return challenge
}

func (c *redisClient) DeleteChallenge(ctx context.Context, chatID, userID int64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.challengeKey(chatID, userID))
		pipe.ZRem(ctx, c.expiryKey(), member(chatID, userID))
		return nil
	})
	return errors.Wrap(err, "delete challenge")
}

func (c *redisClient) GetExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error) {
	members, err := c.rdb.ZRangeByScore(ctx, c.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get expired challenges")
	}

	var challenges []*db.Challenge
	for _, m := range members {
		chatPart, userPart, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		chatID, err1 := strconv.ParseInt(chatPart, 10, 64)
		userID, err2 := strconv.ParseInt(userPart, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		challenge, err := c.GetChallenge(ctx, chatID, userID)
		if errors.Is(err, db.ErrNotFound) {
			c.rdb.ZRem(ctx, c.expiryKey(), m)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !challenge.Pending() {
			c.rdb.ZRem(ctx, c.expiryKey(), m)
			continue
		}
		challenges = append(challenges, challenge)
	}
	return challenges, nil
}
