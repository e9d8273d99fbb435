package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"

	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/i18n"
	"github.com/iamwavecut/warden/internal/moderation"
)

const (
	defaultModlogSize = 10
	maxModlogSize     = 50
)

var (
	errNoTarget  = errors.New("no target")
	errBadTarget = errors.New("bad target")
)

const settingsTemplate = `{{ .title }}
{{ .antispam_label }}: {{ .antispam }}
{{ .links_label }}: {{ .links }}
{{ .flood_label }}: {{ .flood }}
{{ .warn_label }}: {{ .warn }}
{{ .lang_label }}: {{ .lang }}`

const modlogLineTemplate = `{{ .time }} {{ .action }}{{ if .user }} #{{ .user }}{{ end }}{{ if .reason }} ({{ .reason }}){{ end }}`

func (a *Admin) startCommand(ctx context.Context, req *request) error {
	a.reply(ctx, req, i18n.Get("Hello! I'm your moderation bot. Use /help for commands.", req.lang))
	return nil
}

func (a *Admin) helpCommand(ctx context.Context, req *request) error {
	a.reply(ctx, req, i18n.Get("Admin commands:\n/addfilter <word> - add banned word\n/delfilter <word> - remove banned word\n/listfilters - show banned words\n/warn <user_id> [reason] - warn, or reply to a message\n/unwarn <user_id> - reset warnings, or reply to a message\n/setwarnlimit <n> - warnings before a mute\n/setfloodlimit <n> - messages allowed per 7 seconds\n/antispam on|off - message screening\n/blocklinks on|off - link blocking\n/setlang <code> - notice language\n/settings - show chat settings\n/modlog [n] - recent moderation actions", req.lang))
	return nil
}

func (a *Admin) addFilterCommand(ctx context.Context, req *request) error {
	word := db.NormalizeWord(strings.Join(req.args, " "))
	if word == "" {
		a.reply(ctx, req, i18n.Get("Usage: /addfilter <word>", req.lang))
		return nil
	}
	if err := a.s.GetDB().AddFilterWord(ctx, req.chatID, word); err != nil {
		return errors.WithMessage(err, "add filter")
	}
	a.audit(ctx, req, "addfilter", word)
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Added filter: %s", req.lang), word))
	return nil
}

func (a *Admin) delFilterCommand(ctx context.Context, req *request) error {
	word := db.NormalizeWord(strings.Join(req.args, " "))
	if word == "" {
		a.reply(ctx, req, i18n.Get("Usage: /delfilter <word>", req.lang))
		return nil
	}
	if err := a.s.GetDB().RemoveFilterWord(ctx, req.chatID, word); err != nil {
		return errors.WithMessage(err, "remove filter")
	}
	a.audit(ctx, req, "delfilter", word)
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Removed filter: %s", req.lang), word))
	return nil
}

func (a *Admin) listFiltersCommand(ctx context.Context, req *request) error {
	words, err := a.s.GetDB().ListFilterWords(ctx, req.chatID)
	if err != nil {
		return errors.WithMessage(err, "list filters")
	}
	if len(words) == 0 {
		a.reply(ctx, req, i18n.Get("No filters set.", req.lang))
		return nil
	}
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Filters:\n%s", req.lang), strings.Join(words, "\n")))
	return nil
}

// target resolves the member a moderation command points at: the author of the
// replied message, or a numeric id in the first argument. The remaining arguments
// are returned.
func target(req *request) (userID int64, name string, rest []string, err error) {
	if reply := req.msg.ReplyToMessage; reply != nil && reply.From != nil {
		return reply.From.ID, bot.GetFullName(reply.From), req.args, nil
	}
	if len(req.args) == 0 {
		return 0, "", nil, errNoTarget
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(req.args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, "", nil, errBadTarget
	}
	return id, "", req.args[1:], nil
}

func (a *Admin) warnCommand(ctx context.Context, req *request) error {
	userID, name, rest, err := target(req)
	switch {
	case errors.Is(err, errNoTarget):
		a.reply(ctx, req, i18n.Get("Usage: reply to user or /warn <user_id> <reason>", req.lang))
		return nil
	case err != nil:
		a.reply(ctx, req, i18n.Get("Could not find user id.", req.lang))
		return nil
	}
	reason := strings.TrimSpace(strings.Join(rest, " "))
	if reason == "" {
		reason = moderation.ReasonManual
	}

	outcome, err := a.warner.Escalate(ctx, moderation.Offense{
		ChatID:   req.chatID,
		UserID:   userID,
		UserName: name,
		Reason:   reason,
	}, req.settings)
	if err != nil {
		return errors.WithMessage(err, "warn")
	}
	a.audit(ctx, req, "warn", fmt.Sprintf("user %d: %s", userID, reason))
	a.getLogEntry().WithField("target_id", userID).WithField("muted", outcome.Muted).Debug("manual warning issued")
	return nil
}

func (a *Admin) unwarnCommand(ctx context.Context, req *request) error {
	userID, _, _, err := target(req)
	switch {
	case errors.Is(err, errNoTarget):
		a.reply(ctx, req, i18n.Get("Usage: reply to user or /unwarn <user_id>", req.lang))
		return nil
	case err != nil:
		a.reply(ctx, req, i18n.Get("Could not parse user id.", req.lang))
		return nil
	}
	if err := a.warner.Pardon(ctx, req.chatID, userID); err != nil {
		return errors.WithMessage(err, "unwarn")
	}
	a.audit(ctx, req, "unwarn", fmt.Sprintf("user %d", userID))
	a.reply(ctx, req, i18n.Get("Warnings reset.", req.lang))
	return nil
}

func positiveArg(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (a *Admin) saveSettings(ctx context.Context, req *request) error {
	return errors.WithMessage(a.s.SetSettings(ctx, req.settings), "save settings")
}

func (a *Admin) setWarnLimitCommand(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		a.reply(ctx, req, i18n.Get("Usage: /setwarnlimit <n>", req.lang))
		return nil
	}
	n, ok := positiveArg(req.args)
	if !ok {
		a.reply(ctx, req, i18n.Get("Invalid number.", req.lang))
		return nil
	}
	req.settings.WarnLimit = n
	if err := a.saveSettings(ctx, req); err != nil {
		return err
	}
	a.audit(ctx, req, "setwarnlimit", strconv.Itoa(n))
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Warn limit set to %d", req.lang), n))
	return nil
}

func (a *Admin) setFloodLimitCommand(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		a.reply(ctx, req, i18n.Get("Usage: /setfloodlimit <n>", req.lang))
		return nil
	}
	n, ok := positiveArg(req.args)
	if !ok {
		a.reply(ctx, req, i18n.Get("Invalid number.", req.lang))
		return nil
	}
	req.settings.FloodLimit = n
	if err := a.saveSettings(ctx, req); err != nil {
		return err
	}
	a.audit(ctx, req, "setfloodlimit", strconv.Itoa(n))
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Flood limit set to %d messages per 7 seconds", req.lang), n))
	return nil
}

func parseSwitch(args []string) (on bool, ok bool) {
	if len(args) != 1 {
		return false, false
	}
	arg := strings.ToLower(args[0])
	switch {
	case tool.In(arg, "on", "enable", "true", "1"):
		return true, true
	case tool.In(arg, "off", "disable", "false", "0"):
		return false, true
	}
	return false, false
}

func stateLabel(on bool, lang string) string {
	if on {
		return i18n.Get("enabled", lang)
	}
	return i18n.Get("disabled", lang)
}

func (a *Admin) antispamCommand(ctx context.Context, req *request) error {
	on, ok := parseSwitch(req.args)
	if !ok {
		a.reply(ctx, req, i18n.Get("Usage: /antispam on|off", req.lang))
		return nil
	}
	req.settings.AntispamEnabled = on
	if err := a.saveSettings(ctx, req); err != nil {
		return err
	}
	a.audit(ctx, req, "antispam", strconv.FormatBool(on))
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Antispam is now %s", req.lang), stateLabel(on, req.lang)))
	return nil
}

func (a *Admin) blockLinksCommand(ctx context.Context, req *request) error {
	on, ok := parseSwitch(req.args)
	if !ok {
		a.reply(ctx, req, i18n.Get("Usage: /blocklinks on|off", req.lang))
		return nil
	}
	req.settings.BlockLinks = on
	if err := a.saveSettings(ctx, req); err != nil {
		return err
	}
	a.audit(ctx, req, "blocklinks", strconv.FormatBool(on))
	a.reply(ctx, req, fmt.Sprintf(i18n.Get("Link blocking is now %s", req.lang), stateLabel(on, req.lang)))
	return nil
}

func (a *Admin) setLangCommand(ctx context.Context, req *request) error {
	code := ""
	if len(req.args) == 1 {
		code = strings.ToLower(req.args[0])
	}
	if !i18n.IsSupported(code) {
		a.reply(ctx, req, fmt.Sprintf(
			i18n.Get("Usage: /setlang <code>, one of: %s", req.lang),
			strings.Join(i18n.SupportedLanguages(), ", "),
		))
		return nil
	}
	req.settings.Language = code
	if err := a.saveSettings(ctx, req); err != nil {
		return err
	}
	a.audit(ctx, req, "setlang", code)
	a.reply(ctx, req, i18n.Get("Language set successfully", code))
	return nil
}

func (a *Admin) settingsCommand(ctx context.Context, req *request) error {
	s := req.settings
	lang := req.lang
	a.reply(ctx, req, tool.ExecTemplate(settingsTemplate, map[string]any{
		"title":          i18n.Get("Chat settings", lang),
		"antispam_label": i18n.Get("Antispam", lang),
		"antispam":       stateLabel(s.AntispamEnabled, lang),
		"links_label":    i18n.Get("Link blocking", lang),
		"links":          stateLabel(s.BlockLinks, lang),
		"flood_label":    i18n.Get("Flood limit", lang),
		"flood":          s.EffectiveFloodLimit(a.cfg.DefaultFloodLimit),
		"warn_label":     i18n.Get("Warn limit", lang),
		"warn":           s.EffectiveWarnLimit(a.cfg.DefaultWarnLimit),
		"lang_label":     i18n.Get("Language", lang),
		"lang":           i18n.GetLanguageName(s.EffectiveLanguage(a.cfg.DefaultLanguage)),
	}))
	return nil
}

func (a *Admin) modlogCommand(ctx context.Context, req *request) error {
	limit := defaultModlogSize
	if len(req.args) > 0 {
		n, ok := positiveArg(req.args)
		if !ok {
			a.reply(ctx, req, i18n.Get("Usage: /modlog [n]", req.lang))
			return nil
		}
		limit = min(n, maxModlogSize)
	}

	entries, err := a.s.GetDB().ListAuditLog(ctx, req.chatID, limit)
	if err != nil {
		return errors.WithMessage(err, "list audit log")
	}
	if len(entries) == 0 {
		a.reply(ctx, req, i18n.Get("No moderation actions recorded.", req.lang))
		return nil
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, i18n.Get("Recent moderation actions:", req.lang))
	for _, e := range entries {
		user := ""
		if e.UserID != nil {
			user = strconv.FormatInt(*e.UserID, 10)
		}
		lines = append(lines, tool.ExecTemplate(modlogLineTemplate, map[string]any{
			"time":   e.CreatedAt.UTC().Format("2006-01-02 15:04"),
			"action": e.Action,
			"user":   user,
			"reason": e.Reason,
		}))
	}
	a.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}
