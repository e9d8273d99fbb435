package db

import (
	"context"
	"time"
)

// Client is the storage capability shared by every backend. Moderation and
// verification code only talks to this interface.
type Client interface {
	Close() error

	GetInfractionCount(ctx context.Context, chatID, userID int64) (int, error)
	SetInfractionCount(ctx context.Context, chatID, userID int64, count int) error
	IncrementInfraction(ctx context.Context, chatID, userID int64) (int, error)
	DeleteInfraction(ctx context.Context, chatID, userID int64) error

	AddFilterWord(ctx context.Context, chatID int64, word string) error
	RemoveFilterWord(ctx context.Context, chatID int64, word string) error
	ListFilterWords(ctx context.Context, chatID int64) ([]string, error)

	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error

	AppendAuditLog(ctx context.Context, entry *AuditEntry) error
	ListAuditLog(ctx context.Context, chatID int64, limit int) ([]*AuditEntry, error)

	UpsertChallenge(ctx context.Context, challenge *Challenge) error
	GetChallenge(ctx context.Context, chatID, userID int64) (*Challenge, error)
	DeleteChallenge(ctx context.Context, chatID, userID int64) error
	GetExpiredChallenges(ctx context.Context, now time.Time) ([]*Challenge, error)
}
