package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/moderation"
)

type messagePipeline interface {
	HandleMessage(ctx context.Context, msg moderation.Message) (moderation.Result, error)
}

type adminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// Reactor feeds ordinary group messages into the moderation pipeline.
type Reactor struct {
	pipeline messagePipeline
	admins   adminChecker
	logger   *log.Entry
}

func NewReactor(pipeline messagePipeline, admins adminChecker) *Reactor {
	r := &Reactor{
		pipeline: pipeline,
		admins:   admins,
		logger:   log.WithField("handler", "reactor"),
	}
	r.logger.Debug("created new reactor")
	return r
}

func (r *Reactor) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	msg := u.Message
	if msg == nil || chat == nil || user == nil {
		return true, nil
	}
	if !isScreened(msg, chat, user) {
		return true, nil
	}

	entry := r.logger.WithFields(log.Fields{
		"method":  "Handle",
		"chat_id": chat.ID,
		"user_id": user.ID,
	})

	result, err := r.pipeline.HandleMessage(ctx, moderation.Message{
		ChatID:    chat.ID,
		MessageID: msg.MessageID,
		UserID:    user.ID,
		UserName:  bot.GetFullName(user),
		Text:      msg.Text,
		Caption:   msg.Caption,
		FromAdmin: r.admins != nil && r.admins.IsAdmin(ctx, chat.ID, user.ID),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant moderate message")
		return true, err
	}
	if result.Action != moderation.ActionNone && result.Action != moderation.ActionSkipped {
		entry.WithField("action", result.Action).Debug("message moderated")
	}
	return true, nil
}

// isScreened filters out everything the pipeline must not see: private chats, bots,
// anonymous senders and platform status messages. Commands known to the admin router
// never get here, unknown ones are screened like any other text.
func isScreened(msg *api.Message, chat *api.Chat, user *api.User) bool {
	switch {
	case chat.IsPrivate() || chat.IsChannel():
		return false
	case user.IsBot:
		return false
	case msg.SenderChat != nil:
		return false
	case bot.IsServiceMessage(msg):
		return false
	}
	return true
}
