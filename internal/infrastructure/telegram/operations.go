package telegram

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

// Capabilities is the subset of member permissions the bot toggles.
type Capabilities struct {
	Messages        bool
	Media           bool
	WebPagePreviews bool
	Other           bool
}

// NoCapabilities silences a member completely.
func NoCapabilities() Capabilities {
	return Capabilities{}
}

// MemberCapabilities are the regular permissions of a verified member.
func MemberCapabilities() Capabilities {
	return Capabilities{Messages: true, Media: true, WebPagePreviews: true, Other: true}
}

func (c Capabilities) chatPermissions() *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       c.Messages,
		CanSendAudios:         c.Media,
		CanSendDocuments:      c.Media,
		CanSendPhotos:         c.Media,
		CanSendVideos:         c.Media,
		CanSendVideoNotes:     c.Media,
		CanSendVoiceNotes:     c.Media,
		CanSendPolls:          c.Other,
		CanSendOtherMessages:  c.Other,
		CanAddWebPagePreviews: c.WebPagePreviews,
	}
}

type Button struct {
	Text string
	Data string
}

type OutgoingMessage struct {
	ChatID  int64
	Text    string
	HTML    bool
	ReplyTo int
	Buttons []Button
}

type requester interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
}

// Operations wraps the bot API calls the moderation core needs. Every call fails
// fast when ctx is already done; request timeouts come from the bot HTTP client.
type Operations struct {
	bot requester
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

func memberConfig(chatID, userID int64) api.ChatMemberConfig {
	return api.ChatMemberConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
		UserID: userID,
	}
}

func (o *Operations) Send(ctx context.Context, msg OutgoingMessage) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out := api.NewMessage(msg.ChatID, msg.Text)
	if msg.HTML {
		out.ParseMode = api.ModeHTML
	}
	out.LinkPreviewOptions.IsDisabled = true
	if msg.ReplyTo != 0 {
		out.ReplyParameters.MessageID = msg.ReplyTo
		out.ReplyParameters.AllowSendingWithoutReply = true
	}
	if len(msg.Buttons) > 0 {
		out.ReplyMarkup = keyboard(msg.Buttons)
	}
	sent, err := o.bot.Send(out)
	if err != nil {
		return 0, errors.Wrap(err, "send message")
	}
	return sent.MessageID, nil
}

func keyboard(buttons []Button) api.InlineKeyboardMarkup {
	row := make([]api.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, api.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	return api.NewInlineKeyboardMarkup(row)
}

// EditText replaces the message text and drops its inline keyboard.
func (o *Operations) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = api.ModeHTML
	if _, err := o.bot.Request(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return errors.Wrap(err, "edit message")
	}
	return nil
}

func (o *Operations) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := o.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// Restrict applies caps to the member. A zero until means the restriction does not expire.
func (o *Operations) Restrict(ctx context.Context, chatID, userID int64, caps Capabilities, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.RestrictChatMemberConfig{
		ChatMemberConfig:              memberConfig(chatID, userID),
		UseIndependentChatPermissions: true,
		Permissions:                   caps.chatPermissions(),
	}
	if !until.IsZero() {
		config.UntilDate = until.Unix()
	}
	if _, err := o.bot.Request(config); err != nil {
		if strings.Contains(err.Error(), "not enough rights") {
			return errors.New("not enough rights to restrict user")
		}
		return errors.Wrap(err, "restrict user")
	}
	return nil
}

// Kick removes the member without a lasting ban, so they can rejoin later.
func (o *Operations) Kick(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ban := api.BanChatMemberConfig{
		ChatMemberConfig: memberConfig(chatID, userID),
		UntilDate:        time.Now().Add(time.Minute).Unix(),
	}
	if _, err := o.bot.Request(ban); err != nil {
		return errors.Wrap(err, "ban user")
	}
	unban := api.UnbanChatMemberConfig{
		ChatMemberConfig: memberConfig(chatID, userID),
		OnlyIfBanned:     true,
	}
	if _, err := o.bot.Request(unban); err != nil {
		return errors.Wrap(err, "unban user")
	}
	return nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cb api.CallbackConfig
	if alert {
		cb = api.NewCallbackWithAlert(callbackID, text)
	} else {
		cb = api.NewCallback(callbackID, text)
	}
	if _, err := o.bot.Request(cb); err != nil {
		return errors.Wrap(err, "answer callback")
	}
	return nil
}

func (o *Operations) GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "get chat member")
	}
	return &member, nil
}
