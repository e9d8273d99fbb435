// Package redis keeps moderation state in Redis so several bot replicas can share
// counters, filters, settings, the audit stream and pending join challenges.
package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iamwavecut/warden/internal/db"
)

const (
	keyPrefix      = "warden/"
	auditStreamMax = 10000
)

type redisClient struct {
	rdb    *redis.Client
	prefix string
}

var _ db.Client = (*redisClient)(nil)

// NewRedisClient connects using a redis:// or rediss:// URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redisClient, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &redisClient{rdb: rdb, prefix: keyPrefix}, nil
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}

func (c *redisClient) key(parts ...string) string {
	k := c.prefix
	for i, p := range parts {
		if i > 0 {
			k += "/"
		}
		k += p
	}
	return k
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func (c *redisClient) GetInfractionCount(ctx context.Context, chatID, userID int64) (int, error) {
	n, err := c.rdb.HGet(ctx, c.key("infractions", id(chatID)), id(userID)).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "get infraction count")
	}
	return n, nil
}

func (c *redisClient) SetInfractionCount(ctx context.Context, chatID, userID int64, count int) error {
	if count < 0 {
		return errors.Errorf("negative infraction count %d", count)
	}
	return errors.Wrap(c.rdb.HSet(ctx, c.key("infractions", id(chatID)), id(userID), count).Err(), "set infraction count")
}

func (c *redisClient) IncrementInfraction(ctx context.Context, chatID, userID int64) (int, error) {
	n, err := c.rdb.HIncrBy(ctx, c.key("infractions", id(chatID)), id(userID), 1).Result()
	if err != nil {
		return 0, errors.Wrap(err, "increment infraction")
	}
	return int(n), nil
}

func (c *redisClient) DeleteInfraction(ctx context.Context, chatID, userID int64) error {
	return errors.Wrap(c.rdb.HDel(ctx, c.key("infractions", id(chatID)), id(userID)).Err(), "delete infraction")
}

func (c *redisClient) AddFilterWord(ctx context.Context, chatID int64, word string) error {
	word = db.NormalizeWord(word)
	if word == "" {
		return errors.New("empty filter word")
	}
	return errors.Wrap(c.rdb.SAdd(ctx, c.key("filters", id(chatID)), word).Err(), "add filter word")
}

func (c *redisClient) RemoveFilterWord(ctx context.Context, chatID int64, word string) error {
	return errors.Wrap(c.rdb.SRem(ctx, c.key("filters", id(chatID)), db.NormalizeWord(word)).Err(), "remove filter word")
}

func (c *redisClient) ListFilterWords(ctx context.Context, chatID int64) ([]string, error) {
	words, err := c.rdb.SMembers(ctx, c.key("filters", id(chatID))).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list filter words")
	}
	sort.Strings(words)
	return words, nil
}

func (c *redisClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	fields, err := c.rdb.HGetAll(ctx, c.key("settings", id(chatID))).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get settings")
	}
	settings := db.DefaultSettings(chatID)
	if len(fields) == 0 {
		return settings, nil
	}
	if v, ok := fields["antispam_enabled"]; ok {
		settings.AntispamEnabled = v == "1"
	}
	if v, ok := fields["block_links"]; ok {
		settings.BlockLinks = v == "1"
	}
	settings.FloodLimit, _ = strconv.Atoi(fields["flood_limit"])
	settings.WarnLimit, _ = strconv.Atoi(fields["warn_limit"])
	settings.Language = fields["language"]
	return settings, nil
}

func (c *redisClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	if settings == nil {
		return errors.New("nil settings")
	}
	err := c.rdb.HSet(ctx, c.key("settings", id(settings.ID)), map[string]any{
		"antispam_enabled": flag(settings.AntispamEnabled),
		"block_links":      flag(settings.BlockLinks),
		"flood_limit":      settings.FloodLimit,
		"warn_limit":       settings.WarnLimit,
		"language":         settings.Language,
	}).Err()
	return errors.Wrap(err, "set settings")
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
