package moderation

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/i18n"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/utils/keylock"
)

// MuteReason is the audit reason written when the warn limit is reached.
const MuteReason = "warn_limit_reached"

type messenger interface {
	Send(ctx context.Context, msg telegram.OutgoingMessage) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Restrict(ctx context.Context, chatID, userID int64, caps telegram.Capabilities, until time.Time) error
}

type auditor interface {
	Record(ctx context.Context, chatID int64, userID *int64, action, reason string) error
}

type EscalatorConfig struct {
	DefaultWarnLimit int
	MuteDuration     time.Duration
	DefaultLanguage  string
}

// Offense is one infraction to escalate.
type Offense struct {
	ChatID   int64
	UserID   int64
	UserName string
	Reason   string
}

type Outcome struct {
	Count        int
	Limit        int
	LimitReached bool
	Muted        bool
}

// Escalator drives the warn, mute and reset cycle of a chat member.
type Escalator struct {
	ledger    *Ledger
	messenger messenger
	auditor   auditor
	metrics   *observability.Metrics
	locks     *keylock.Map
	cfg       EscalatorConfig
	now       func() time.Time
}

func NewEscalator(ledger *Ledger, messenger messenger, auditor auditor, metrics *observability.Metrics, cfg EscalatorConfig) *Escalator {
	return &Escalator{
		ledger:    ledger,
		messenger: messenger,
		auditor:   auditor,
		metrics:   metrics,
		locks:     keylock.New(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Escalate records the offense. Reaching the chat warn limit mutes the member for the
// configured duration and resets the counter, even when the mute call itself failed.
// Only storage errors are returned; messaging failures are logged.
func (e *Escalator) Escalate(ctx context.Context, offense Offense, settings *db.Settings) (Outcome, error) {
	entry := log.WithField("object", "Escalator").
		WithField("chat_id", offense.ChatID).
		WithField("user_id", offense.UserID)

	unlock := e.locks.Lock(offense.ChatID, offense.UserID)
	defer unlock()

	limit := settings.EffectiveWarnLimit(e.cfg.DefaultWarnLimit)
	lang := settings.EffectiveLanguage(e.cfg.DefaultLanguage)
	outcome := Outcome{Limit: limit}

	count, err := e.ledger.Increment(ctx, offense.ChatID, offense.UserID)
	if err != nil {
		return outcome, err
	}
	outcome.Count = count

	mention := Mention(offense.UserID, offense.UserName)
	notice := fmt.Sprintf(
		i18n.Get("⚠️ %s warned (%d/%d). Reason: %s", lang),
		mention, count, limit, html.EscapeString(LocalizeReason(offense.Reason, lang)),
	)
	e.announce(ctx, entry, offense.ChatID, notice)
	_ = e.auditor.Record(ctx, offense.ChatID, db.UserRef(offense.UserID), db.ActionWarn, offense.Reason)
	e.metrics.RecordEscalation("warn")

	if count < limit {
		return outcome, nil
	}
	outcome.LimitReached = true

	until := e.now().Add(e.cfg.MuteDuration)
	if err := e.messenger.Restrict(ctx, offense.ChatID, offense.UserID, telegram.NoCapabilities(), until); err != nil {
		entry.WithField("error", err.Error()).Error("cant mute")
		e.metrics.RecordPlatformFailure("restrict")
	} else {
		outcome.Muted = true
		e.announce(ctx, entry, offense.ChatID, fmt.Sprintf(
			i18n.Get("🔇 %s muted for %s due to repeated warnings.", lang),
			mention, HumanizeDuration(e.cfg.MuteDuration, lang),
		))
		_ = e.auditor.Record(ctx, offense.ChatID, db.UserRef(offense.UserID), db.ActionMute, MuteReason)
		e.metrics.RecordEscalation("mute")
	}

	if err := e.ledger.Reset(ctx, offense.ChatID, offense.UserID); err != nil {
		return outcome, errors.WithMessage(err, "reset after mute")
	}
	outcome.Count = 0
	return outcome, nil
}

// Pardon clears the member's warnings. Pardoning a member without warnings is a no-op.
func (e *Escalator) Pardon(ctx context.Context, chatID, userID int64) error {
	unlock := e.locks.Lock(chatID, userID)
	defer unlock()
	return e.ledger.Reset(ctx, chatID, userID)
}

func (e *Escalator) announce(ctx context.Context, entry *log.Entry, chatID int64, text string) {
	if _, err := e.messenger.Send(ctx, telegram.OutgoingMessage{ChatID: chatID, Text: text, HTML: true}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant send notice")
		e.metrics.RecordPlatformFailure("send")
	}
}

// Mention renders an HTML link to the user.
func Mention(userID int64, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "User"
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, userID, html.EscapeString(name))
}

// LocalizeReason translates the built-in reasons; free-form reasons are kept as is.
func LocalizeReason(reason, lang string) string {
	switch {
	case reason == ReasonLink:
		return i18n.Get("Posting links", lang)
	case reason == ReasonCaps:
		return i18n.Get("Caps spam", lang)
	case reason == ReasonFlood:
		return i18n.Get("Flooding", lang)
	case reason == ReasonManual:
		return i18n.Get("Warned by an admin", lang)
	case strings.HasPrefix(reason, badWordReason):
		return fmt.Sprintf(i18n.Get("Use of banned word: %s", lang), strings.TrimPrefix(reason, badWordReason))
	}
	return reason
}

// HumanizeDuration renders whole hours or minutes, falling back to the Go notation.
func HumanizeDuration(d time.Duration, lang string) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return i18n.Get("1 hour", lang)
		}
		return fmt.Sprintf(i18n.Get("%d hours", lang), hours)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf(i18n.Get("%d min", lang), int(d/time.Minute))
	}
	return d.String()
}
