package db

import "errors"

var ErrNotFound = errors.New("not found")

type Settings struct {
	ID              int64  `db:"id"`
	AntispamEnabled bool   `db:"antispam_enabled"`
	BlockLinks      bool   `db:"block_links"`
	FloodLimit      int    `db:"flood_limit"`
	WarnLimit       int    `db:"warn_limit"`
	Language        string `db:"language"`
}

// DefaultSettings is what a chat without a stored record behaves like. Zero limits
// defer to the process-wide defaults at evaluation time.
func DefaultSettings(chatID int64) *Settings {
	return &Settings{
		ID:              chatID,
		AntispamEnabled: true,
		BlockLinks:      true,
	}
}

// EffectiveFloodLimit resolves the chat flood limit against the process default.
func (s *Settings) EffectiveFloodLimit(fallback int) int {
	if s == nil || s.FloodLimit <= 0 {
		return fallback
	}
	return s.FloodLimit
}

// EffectiveWarnLimit resolves the chat warn limit against the process default.
func (s *Settings) EffectiveWarnLimit(fallback int) int {
	if s == nil || s.WarnLimit <= 0 {
		return fallback
	}
	return s.WarnLimit
}

// EffectiveLanguage resolves the chat language against the process default.
func (s *Settings) EffectiveLanguage(fallback string) string {
	if s == nil || s.Language == "" {
		return fallback
	}
	return s.Language
}
