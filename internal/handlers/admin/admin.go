package handlers

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/i18n"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
	"github.com/iamwavecut/warden/internal/moderation"
)

type warner interface {
	Escalate(ctx context.Context, offense moderation.Offense, settings *db.Settings) (moderation.Outcome, error)
	Pardon(ctx context.Context, chatID, userID int64) error
}

type replier interface {
	Send(ctx context.Context, msg telegram.OutgoingMessage) (int, error)
}

type auditor interface {
	Record(ctx context.Context, chatID int64, userID *int64, action, reason string) error
}

type adminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// Config holds process defaults. An empty BotName is taken from the bot account.
type Config struct {
	BotName           string
	DefaultLanguage   string
	DefaultWarnLimit  int
	DefaultFloodLimit int
}

// request is one parsed command invocation.
type request struct {
	msg      *api.Message
	chatID   int64
	user     *api.User
	args     []string
	settings *db.Settings
	lang     string
}

type commandFunc func(ctx context.Context, req *request) error

// Admin serves the chat command surface. Every mutating command is wrapped by
// requireAdmin.
type Admin struct {
	s        bot.Service
	warner   warner
	replier  replier
	auditor  auditor
	admins   adminChecker
	cfg      Config
	commands map[string]commandFunc
}

func NewAdmin(s bot.Service, warner warner, replier replier, auditor auditor, admins adminChecker, cfg Config) *Admin {
	if cfg.BotName == "" && s.GetBot() != nil {
		cfg.BotName = s.GetBot().Self.UserName
	}
	a := &Admin{
		s:       s,
		warner:  warner,
		replier: replier,
		auditor: auditor,
		admins:  admins,
		cfg:     cfg,
	}
	a.commands = map[string]commandFunc{
		"start":         a.startCommand,
		"help":          a.helpCommand,
		"addfilter":     a.requireAdmin(a.addFilterCommand),
		"delfilter":     a.requireAdmin(a.delFilterCommand),
		"listfilters":   a.requireAdmin(a.listFiltersCommand),
		"warn":          a.requireAdmin(a.warnCommand),
		"unwarn":        a.requireAdmin(a.unwarnCommand),
		"setwarnlimit":  a.requireAdmin(a.setWarnLimitCommand),
		"setfloodlimit": a.requireAdmin(a.setFloodLimitCommand),
		"antispam":      a.requireAdmin(a.antispamCommand),
		"blocklinks":    a.requireAdmin(a.blockLinksCommand),
		"setlang":       a.requireAdmin(a.setLangCommand),
		"settings":      a.requireAdmin(a.settingsCommand),
		"modlog":        a.requireAdmin(a.modlogCommand),
	}
	a.getLogEntry().WithField("method", "NewAdmin").Debug("created new admin handler")
	return a
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error) {
	if u.Message == nil || chat == nil || user == nil || !u.Message.IsCommand() {
		return true, nil
	}
	if !a.addressedToUs(u.Message) {
		return true, nil
	}
	name := strings.ToLower(u.Message.Command())
	command, ok := a.commands[name]
	if !ok {
		return true, nil
	}

	entry := a.getLogEntry().WithFields(log.Fields{
		"method":  "Handle",
		"command": name,
		"chat_id": chat.ID,
		"user_id": user.ID,
	})
	entry.Debug("processing command")

	settings, err := a.s.GetSettings(ctx, chat.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant get chat settings")
		return false, err
	}
	req := &request{
		msg:      u.Message,
		chatID:   chat.ID,
		user:     user,
		args:     strings.Fields(u.Message.CommandArguments()),
		settings: settings,
		lang:     a.s.GetLanguage(ctx, chat.ID, user),
	}
	if err := command(ctx, req); err != nil {
		entry.WithField("error", err.Error()).Error("command failed")
		return false, err
	}
	return false, nil
}

// addressedToUs drops commands suffixed with another bot's name.
func (a *Admin) addressedToUs(msg *api.Message) bool {
	full := msg.CommandWithAt()
	at := strings.IndexByte(full, '@')
	if at < 0 || a.cfg.BotName == "" {
		return true
	}
	return strings.EqualFold(full[at+1:], a.cfg.BotName)
}

// requireAdmin rejects the command with a notice and no side effects unless the
// sender is an admin.
func (a *Admin) requireAdmin(next commandFunc) commandFunc {
	return func(ctx context.Context, req *request) error {
		if a.admins == nil || !a.admins.IsAdmin(ctx, req.chatID, req.user.ID) {
			a.getLogEntry().WithField("user_id", req.user.ID).Info("unauthorized command")
			a.reply(ctx, req, i18n.Get("❌ You are not authorized for this command.", req.lang))
			return nil
		}
		return next(ctx, req)
	}
}

func (a *Admin) reply(ctx context.Context, req *request, text string) {
	_, err := a.replier.Send(ctx, telegram.OutgoingMessage{
		ChatID:  req.chatID,
		Text:    text,
		ReplyTo: req.msg.MessageID,
	})
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Warn("cant send reply")
	}
}

func (a *Admin) audit(ctx context.Context, req *request, command, detail string) {
	_ = a.auditor.Record(ctx, req.chatID, db.UserRef(req.user.ID), "admin_"+command, detail)
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("context", "admin")
}
