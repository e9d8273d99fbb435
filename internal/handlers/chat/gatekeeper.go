package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/verification"
)

type joinVerifier interface {
	HandleJoin(ctx context.Context, join verification.Join) error
	HandleResponse(ctx context.Context, resp verification.Response) (verification.Decision, error)
}

type adminCache interface {
	Forget(chatID, userID int64)
}

// Gatekeeper routes member joins and challenge button presses to the verification
// machine.
type Gatekeeper struct {
	verifier joinVerifier
	admins   adminCache
	logger   *log.Entry
}

func NewGatekeeper(verifier joinVerifier, admins adminCache) *Gatekeeper {
	return &Gatekeeper{
		verifier: verifier,
		admins:   admins,
		logger:   log.WithField("handler", "gatekeeper"),
	}
}

func (g *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if chat == nil {
		return true, nil
	}

	switch {
	case u.CallbackQuery != nil:
		if !verification.IsPayload(u.CallbackQuery.Data) {
			return true, nil
		}
		return false, g.handleResponse(ctx, u.CallbackQuery, chat)
	case u.ChatMember != nil:
		return true, g.handleMemberUpdate(ctx, u.ChatMember)
	default:
		return true, nil
	}
}

func (g *Gatekeeper) handleResponse(ctx context.Context, query *api.CallbackQuery, chat *api.Chat) error {
	if query.From == nil {
		return nil
	}
	resp := verification.Response{
		CallbackID:  query.ID,
		ChatID:      chat.ID,
		ResponderID: query.From.ID,
		Data:        query.Data,
	}
	if query.Message != nil {
		resp.MessageID = query.Message.MessageID
	}

	decision, err := g.verifier.HandleResponse(ctx, resp)
	entry := g.logger.WithFields(log.Fields{
		"method":       "handleResponse",
		"chat_id":      chat.ID,
		"responder_id": query.From.ID,
		"decision":     decision,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Warn("verification response failed")
		return err
	}
	entry.Debug("verification response handled")
	return nil
}

func (g *Gatekeeper) handleMemberUpdate(ctx context.Context, update *api.ChatMemberUpdated) error {
	member := update.NewChatMember.User
	if member == nil {
		return nil
	}
	if g.admins != nil {
		g.admins.Forget(update.Chat.ID, member.ID)
	}
	if member.IsBot || !isJoin(update.OldChatMember, update.NewChatMember) {
		return nil
	}

	g.logger.WithFields(log.Fields{
		"method":  "handleMemberUpdate",
		"chat_id": update.Chat.ID,
		"user_id": member.ID,
	}).Info("member joined, issuing verification")

	return g.verifier.HandleJoin(ctx, verification.Join{
		ChatID:   update.Chat.ID,
		UserID:   member.ID,
		UserName: bot.GetFullName(member),
	})
}

// isJoin reports a transition from outside the chat into plain membership.
func isJoin(old, current api.ChatMember) bool {
	return (old.HasLeft() || old.WasKicked()) && current.Status == "member"
}
