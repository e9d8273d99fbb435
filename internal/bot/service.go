package bot

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/i18n"
)

type service struct {
	bot             *api.BotAPI
	db              db.Client
	defaultLanguage string
}

func NewService(bot *api.BotAPI, db db.Client, defaultLanguage string) *service {
	if !i18n.IsSupported(defaultLanguage) {
		defaultLanguage = "en"
	}
	return &service{
		bot:             bot,
		db:              db,
		defaultLanguage: defaultLanguage,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		return nil, errors.WithMessage(err, "get settings")
	}
	return settings, nil
}

func (s *service) SetSettings(ctx context.Context, settings *db.Settings) error {
	if settings.Language != "" && !i18n.IsSupported(settings.Language) {
		return errors.Errorf("unsupported language %q", settings.Language)
	}
	return errors.WithMessage(s.db.SetSettings(ctx, settings), "set settings")
}

// GetLanguage prefers the chat setting, then the user's client language, then the
// configured default.
func (s *service) GetLanguage(ctx context.Context, chatID int64, user *api.User) string {
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		log.WithField("object", "Service").WithField("error", err.Error()).Debug("cant get settings for language")
	}
	if settings != nil && settings.Language != "" {
		return settings.EffectiveLanguage(s.defaultLanguage)
	}
	if user != nil && user.LanguageCode != "" {
		lang := strings.ToLower(strings.SplitN(user.LanguageCode, "-", 2)[0])
		if i18n.IsSupported(lang) {
			return lang
		}
	}
	return s.defaultLanguage
}
