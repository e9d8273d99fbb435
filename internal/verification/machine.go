// Package verification gates new chat members behind a button challenge.
package verification

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/i18n"
	"github.com/iamwavecut/warden/internal/infra"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
	"github.com/iamwavecut/warden/internal/moderation"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/utils/keylock"
)

const (
	sweepInterval = time.Minute
	sweepPanics   = 3
	verifyReason  = "captcha"
)

type ExpiryAction string

const (
	ExpiryKick ExpiryAction = "kick"
	ExpiryNone ExpiryAction = "none"
)

type messenger interface {
	Send(ctx context.Context, msg telegram.OutgoingMessage) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	Restrict(ctx context.Context, chatID, userID int64, caps telegram.Capabilities, until time.Time) error
	Kick(ctx context.Context, chatID, userID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

type challengeStore interface {
	GetSettings(ctx context.Context, chatID int64) (*db.Settings, error)
	UpsertChallenge(ctx context.Context, challenge *db.Challenge) error
	GetChallenge(ctx context.Context, chatID, userID int64) (*db.Challenge, error)
	DeleteChallenge(ctx context.Context, chatID, userID int64) error
	GetExpiredChallenges(ctx context.Context, now time.Time) ([]*db.Challenge, error)
}

type auditor interface {
	Record(ctx context.Context, chatID int64, userID *int64, action, reason string) error
}

type Config struct {
	Timeout         time.Duration
	ExpiryAction    ExpiryAction
	WelcomeText     string
	DefaultLanguage string
}

// Join is a member transition from left or kicked to member.
type Join struct {
	ChatID   int64
	UserID   int64
	UserName string
}

// Response is a press on a verification button.
type Response struct {
	CallbackID  string
	ChatID      int64
	MessageID   int
	ResponderID int64
	Data        string
}

type Decision string

const (
	DecisionVerified Decision = "verified"
	DecisionMismatch Decision = "mismatch"
	DecisionStale    Decision = "stale"
)

// Machine issues challenges to joiners and settles them on response or timeout.
type Machine struct {
	store     challengeStore
	messenger messenger
	auditor   auditor
	metrics   *observability.Metrics
	scheduler *Scheduler
	locks     *keylock.Map
	cfg       Config
	now       func() time.Time
	newNonce  func() string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMachine(store challengeStore, messenger messenger, auditor auditor, metrics *observability.Metrics, cfg Config) *Machine {
	if cfg.ExpiryAction == "" {
		cfg.ExpiryAction = ExpiryKick
	}
	return &Machine{
		store:     store,
		messenger: messenger,
		auditor:   auditor,
		metrics:   metrics,
		scheduler: NewScheduler(),
		locks:     keylock.New(),
		cfg:       cfg,
		now:       time.Now,
		newNonce:  uuid.New,
	}
}

func (m *Machine) Name() string {
	return "verification"
}

func (m *Machine) getLogEntry() *log.Entry {
	return log.WithField("object", "Verification")
}

func (m *Machine) language(ctx context.Context, chatID int64) string {
	settings, err := m.store.GetSettings(ctx, chatID)
	if err != nil {
		m.getLogEntry().WithField("error", err.Error()).Warn("cant resolve chat language")
		return m.cfg.DefaultLanguage
	}
	return settings.EffectiveLanguage(m.cfg.DefaultLanguage)
}

// HandleJoin silences the joiner and posts the challenge. The challenge is issued even
// when the restriction failed.
func (m *Machine) HandleJoin(ctx context.Context, join Join) error {
	ctx, span := observability.Tracer().Start(ctx, "verification.HandleJoin")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", join.ChatID), attribute.Int64("user_id", join.UserID))

	entry := m.getLogEntry().WithField("method", "HandleJoin").
		WithField("chat_id", join.ChatID).
		WithField("user_id", join.UserID)

	unlock := m.locks.Lock(join.ChatID, join.UserID)
	defer unlock()

	lang := m.language(ctx, join.ChatID)
	if err := m.messenger.Restrict(ctx, join.ChatID, join.UserID, telegram.NoCapabilities(), time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant restrict joiner")
		m.metrics.RecordPlatformFailure("restrict")
	}

	now := m.now()
	challenge := &db.Challenge{
		ChatID:    join.ChatID,
		UserID:    join.UserID,
		Nonce:     m.newNonce(),
		State:     db.ChallengeAwaitingVerification,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.Timeout),
	}

	text := fmt.Sprintf("%s %s\n%s",
		moderation.Mention(join.UserID, join.UserName),
		html.EscapeString(m.cfg.WelcomeText),
		fmt.Sprintf(i18n.Get("Please verify within %ds.", lang), int(m.cfg.Timeout/time.Second)),
	)
	messageID, err := m.messenger.Send(ctx, telegram.OutgoingMessage{
		ChatID: join.ChatID,
		Text:   text,
		HTML:   true,
		Buttons: []telegram.Button{{
			Text: i18n.Get("✅ I'm human", lang),
			Data: Payload{UserID: join.UserID, Nonce: challenge.Nonce}.String(),
		}},
	})
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant send challenge")
		m.metrics.RecordPlatformFailure("send")
	}
	challenge.MessageID = messageID

	if err := m.store.UpsertChallenge(ctx, challenge); err != nil {
		return errors.WithMessage(err, "persist challenge")
	}
	_ = m.auditor.Record(ctx, join.ChatID, db.UserRef(join.UserID), db.ActionJoinRestriction, verifyReason)
	m.metrics.RecordVerification("issued")

	nonce := challenge.Nonce
	m.scheduler.Schedule(join.ChatID, join.UserID, m.cfg.Timeout, func() {
		if err := m.expire(context.Background(), join.ChatID, join.UserID, nonce); err != nil {
			m.getLogEntry().WithField("error", err.Error()).Error("cant expire challenge")
		}
	})
	entry.Debug("challenge issued")
	return nil
}

// HandleResponse settles a button press. Presses by anyone but the joiner only get
// an alert and leave the challenge untouched.
func (m *Machine) HandleResponse(ctx context.Context, resp Response) (Decision, error) {
	ctx, span := observability.Tracer().Start(ctx, "verification.HandleResponse")
	defer span.End()

	entry := m.getLogEntry().WithField("method", "HandleResponse").
		WithField("chat_id", resp.ChatID).
		WithField("responder_id", resp.ResponderID)

	lang := m.language(ctx, resp.ChatID)
	payload, err := ParsePayload(resp.Data)
	if err != nil {
		m.alert(ctx, entry, resp.CallbackID, i18n.Get("This verification is no longer active.", lang))
		return DecisionStale, err
	}

	if payload.UserID != resp.ResponderID {
		m.alert(ctx, entry, resp.CallbackID, i18n.Get("❌ This verification is not for you.", lang))
		m.metrics.RecordVerification(string(DecisionMismatch))
		return DecisionMismatch, nil
	}

	unlock := m.locks.Lock(resp.ChatID, payload.UserID)
	defer unlock()

	challenge, err := m.store.GetChallenge(ctx, resp.ChatID, payload.UserID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return "", errors.WithMessage(err, "load challenge")
	}
	if challenge == nil || !challenge.Pending() || challenge.Nonce != payload.Nonce {
		m.alert(ctx, entry, resp.CallbackID, i18n.Get("This verification is no longer active.", lang))
		m.metrics.RecordVerification(string(DecisionStale))
		return DecisionStale, nil
	}

	m.scheduler.Cancel(resp.ChatID, payload.UserID)
	if err := m.messenger.Restrict(ctx, resp.ChatID, payload.UserID, telegram.MemberCapabilities(), time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Error("cant lift restriction")
		m.metrics.RecordPlatformFailure("restrict")
	}

	confirmation := i18n.Get("✅ Verified — welcome!", lang)
	messageID := challenge.MessageID
	if messageID == 0 {
		messageID = resp.MessageID
	}
	if messageID != 0 {
		if err := m.messenger.EditText(ctx, resp.ChatID, messageID, confirmation); err != nil {
			entry.WithField("error", err.Error()).Warn("cant edit challenge message")
			m.metrics.RecordPlatformFailure("edit")
		}
	}
	if err := m.messenger.AnswerCallback(ctx, resp.CallbackID, confirmation, false); err != nil {
		entry.WithField("error", err.Error()).Debug("cant answer callback")
	}

	_ = m.auditor.Record(ctx, resp.ChatID, db.UserRef(payload.UserID), db.ActionVerified, verifyReason)
	if err := m.store.DeleteChallenge(ctx, resp.ChatID, payload.UserID); err != nil {
		return DecisionVerified, errors.WithMessage(err, "delete challenge")
	}
	m.metrics.RecordVerification(string(DecisionVerified))
	return DecisionVerified, nil
}

func (m *Machine) alert(ctx context.Context, entry *log.Entry, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := m.messenger.AnswerCallback(ctx, callbackID, text, true); err != nil {
		entry.WithField("error", err.Error()).Debug("cant answer callback")
	}
}

// expire settles a challenge that outlived its deadline. An empty nonce matches any
// pending challenge of the member.
func (m *Machine) expire(ctx context.Context, chatID, userID int64, nonce string) error {
	entry := m.getLogEntry().WithField("method", "expire").
		WithField("chat_id", chatID).
		WithField("user_id", userID)

	unlock := m.locks.Lock(chatID, userID)
	defer unlock()

	challenge, err := m.store.GetChallenge(ctx, chatID, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.WithMessage(err, "load challenge")
	}
	if !challenge.Pending() || (nonce != "" && challenge.Nonce != nonce) {
		return nil
	}

	lang := m.language(ctx, chatID)
	if m.cfg.ExpiryAction == ExpiryKick {
		if err := m.messenger.Kick(ctx, chatID, userID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant kick unverified member")
			m.metrics.RecordPlatformFailure("kick")
		}
	}
	if challenge.MessageID != 0 {
		if err := m.messenger.EditText(ctx, chatID, challenge.MessageID, i18n.Get("⌛ Verification expired.", lang)); err != nil {
			entry.WithField("error", err.Error()).Warn("cant edit expired challenge")
			m.metrics.RecordPlatformFailure("edit")
		}
	}
	_ = m.auditor.Record(ctx, chatID, db.UserRef(userID), db.ActionExpired, string(m.cfg.ExpiryAction))
	m.metrics.RecordVerification("expired")

	if m.cfg.ExpiryAction == ExpiryKick {
		return errors.WithMessage(m.store.DeleteChallenge(ctx, chatID, userID), "delete challenge")
	}
	challenge.State = db.ChallengeExpired
	return errors.WithMessage(m.store.UpsertChallenge(ctx, challenge), "mark challenge expired")
}

// Sweep settles every persisted challenge past its deadline, covering timers lost on
// restart. It returns how many challenges were examined.
func (m *Machine) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.GetExpiredChallenges(ctx, m.now())
	if err != nil {
		return 0, errors.WithMessage(err, "list expired challenges")
	}
	for _, challenge := range expired {
		m.scheduler.Cancel(challenge.ChatID, challenge.UserID)
		if err := m.expire(ctx, challenge.ChatID, challenge.UserID, challenge.Nonce); err != nil {
			m.getLogEntry().WithField("error", err.Error()).Error("cant expire challenge")
		}
	}
	return len(expired), nil
}

func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.started = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		infra.GoRecoverable(sweepPanics, "challenge_sweep", m.sweepLoop(runCtx))
	}()
	return nil
}

func (m *Machine) sweepLoop(runCtx context.Context) func() {
	return func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			if n, err := m.Sweep(runCtx); err != nil {
				m.getLogEntry().WithField("error", err.Error()).Error("sweep failed")
			} else if n > 0 {
				m.getLogEntry().WithField("count", n).Info("swept expired challenges")
			}
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.scheduler.StopAll()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
