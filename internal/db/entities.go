package db

import (
	"strings"
	"time"
)

type (
	Infraction struct {
		ChatID     int64     `db:"chat_id"`
		UserID     int64     `db:"user_id"`
		Count      int       `db:"count"`
		LastWarnAt time.Time `db:"last_warn_at"`
	}

	FilterWord struct {
		ChatID int64  `db:"chat_id"`
		Word   string `db:"word"`
	}

	AuditEntry struct {
		ID        int64     `db:"id"`
		ChatID    int64     `db:"chat_id"`
		UserID    *int64    `db:"user_id"`
		Action    string    `db:"action"`
		Reason    string    `db:"reason"`
		CreatedAt time.Time `db:"created_at"`
	}

	ChallengeState string

	Challenge struct {
		ChatID    int64          `db:"chat_id"`
		UserID    int64          `db:"user_id"`
		Nonce     string         `db:"nonce"`
		MessageID int            `db:"message_id"`
		State     ChallengeState `db:"state"`
		IssuedAt  time.Time      `db:"issued_at"`
		ExpiresAt time.Time      `db:"expires_at"`
	}
)

const (
	ChallengeRestricted           ChallengeState = "restricted"
	ChallengeAwaitingVerification ChallengeState = "awaiting_verification"
	ChallengeVerified             ChallengeState = "verified"
	ChallengeExpired              ChallengeState = "expired"
)

// Audit actions written by the moderation core.
const (
	ActionFlood           = "flood"
	ActionDeleted         = "deleted"
	ActionWarn            = "warn"
	ActionMute            = "mute"
	ActionJoinRestriction = "join_restriction"
	ActionVerified        = "verified"
	ActionExpired         = "expired"
)

// NormalizeWord lowercases and trims a filter word, the canonical form stored by every backend.
func NormalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Pending reports whether the challenge still waits for the joiner.
func (c *Challenge) Pending() bool {
	if c == nil {
		return false
	}
	return c.State == ChallengeRestricted || c.State == ChallengeAwaitingVerification
}

func UserRef(userID int64) *int64 {
	return &userID
}
