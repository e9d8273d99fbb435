package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
)

type challengeKey struct {
	chatID int64
	userID int64
}

type memStore struct {
	mu         sync.Mutex
	challenges map[challengeKey]db.Challenge
}

func newMemStore() *memStore {
	return &memStore{challenges: map[challengeKey]db.Challenge{}}
}

func (s *memStore) GetSettings(_ context.Context, chatID int64) (*db.Settings, error) {
	return db.DefaultSettings(chatID), nil
}

func (s *memStore) UpsertChallenge(_ context.Context, c *db.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challengeKey{c.ChatID, c.UserID}] = *c
	return nil
}

func (s *memStore) GetChallenge(_ context.Context, chatID, userID int64) (*db.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeKey{chatID, userID}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) DeleteChallenge(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeKey{chatID, userID})
	return nil
}

func (s *memStore) GetExpiredChallenges(_ context.Context, now time.Time) ([]*db.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Challenge
	for _, c := range s.challenges {
		c := c
		if c.Pending() && !c.ExpiresAt.After(now) {
			out = append(out, &c)
		}
	}
	return out, nil
}

type restrictCall struct {
	userID int64
	caps   telegram.Capabilities
}

type callbackAnswer struct {
	text  string
	alert bool
}

type stubMessenger struct {
	mu        sync.Mutex
	sent      []telegram.OutgoingMessage
	edits     map[int]string
	restricts []restrictCall
	kicks     []int64
	answers   []callbackAnswer
	sendErr   error
}

func newStubMessenger() *stubMessenger {
	return &stubMessenger{edits: map[int]string{}}
}

func (m *stubMessenger) Send(_ context.Context, msg telegram.OutgoingMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.sent = append(m.sent, msg)
	return 500 + len(m.sent), nil
}

func (m *stubMessenger) EditText(_ context.Context, _ int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[messageID] = text
	return nil
}

func (m *stubMessenger) Restrict(_ context.Context, _ int64, userID int64, caps telegram.Capabilities, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restricts = append(m.restricts, restrictCall{userID, caps})
	return nil
}

func (m *stubMessenger) Kick(_ context.Context, _ int64, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kicks = append(m.kicks, userID)
	return nil
}

func (m *stubMessenger) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, callbackAnswer{text, alert})
	return nil
}

type stubAuditor struct {
	mu      sync.Mutex
	actions []string
	reasons []string
}

func (a *stubAuditor) Record(_ context.Context, _ int64, _ *int64, action, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.reasons = append(a.reasons, reason)
	return nil
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type machineFixture struct {
	store     *memStore
	messenger *stubMessenger
	auditor   *stubAuditor
	machine   *Machine
	now       time.Time
	timers    []*manualTimer
}

func newMachineFixture(action ExpiryAction) *machineFixture {
	f := &machineFixture{
		store:     newMemStore(),
		messenger: newStubMessenger(),
		auditor:   &stubAuditor{},
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.machine = NewMachine(f.store, f.messenger, f.auditor, nil, Config{
		Timeout:         time.Minute,
		ExpiryAction:    action,
		WelcomeText:     "Welcome! Please verify using the button.",
		DefaultLanguage: "en",
	})
	f.machine.now = func() time.Time { return f.now }
	f.machine.newNonce = func() string { return "nonce-1" }
	f.machine.scheduler.afterFunc = func(_ time.Duration, fn func()) stopper {
		timer := &manualTimer{fn: fn}
		f.timers = append(f.timers, timer)
		return timer
	}
	return f
}

func (f *machineFixture) join(t *testing.T) {
	t.Helper()
	if err := f.machine.HandleJoin(context.Background(), Join{ChatID: -100, UserID: 42, UserName: "Alice"}); err != nil {
		t.Fatalf("handle join: %v", err)
	}
}

func TestHandleJoinRestrictsAndIssuesChallenge(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.join(t)

	if len(f.messenger.restricts) != 1 || f.messenger.restricts[0].caps != telegram.NoCapabilities() {
		t.Fatalf("joiner must be silenced: %#v", f.messenger.restricts)
	}
	if len(f.messenger.sent) != 1 {
		t.Fatalf("expected one challenge message, got %d", len(f.messenger.sent))
	}
	msg := f.messenger.sent[0]
	if !strings.Contains(msg.Text, "Please verify within 60s.") || !strings.Contains(msg.Text, "Welcome!") {
		t.Fatalf("unexpected challenge text: %q", msg.Text)
	}
	if len(msg.Buttons) != 1 || msg.Buttons[0].Data != "captcha:42:nonce-1" || msg.Buttons[0].Text != "✅ I'm human" {
		t.Fatalf("unexpected buttons: %#v", msg.Buttons)
	}

	challenge, err := f.store.GetChallenge(context.Background(), -100, 42)
	if err != nil {
		t.Fatalf("challenge not persisted: %v", err)
	}
	if challenge.State != db.ChallengeAwaitingVerification || challenge.MessageID != 501 || !challenge.ExpiresAt.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("unexpected challenge: %#v", challenge)
	}
	if strings.Join(f.auditor.actions, ",") != db.ActionJoinRestriction {
		t.Fatalf("unexpected audit: %v", f.auditor.actions)
	}
	if f.machine.scheduler.Pending() != 1 {
		t.Fatal("expiry must be scheduled")
	}
}

func TestHandleResponseMismatchChangesNothing(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.join(t)

	decision, err := f.machine.HandleResponse(context.Background(), Response{
		CallbackID:  "cb",
		ChatID:      -100,
		MessageID:   501,
		ResponderID: 7,
		Data:        "captcha:42:nonce-1",
	})
	if err != nil || decision != DecisionMismatch {
		t.Fatalf("expected mismatch, got %s err=%v", decision, err)
	}
	if len(f.messenger.restricts) != 1 {
		t.Fatalf("mismatch must not change permissions: %#v", f.messenger.restricts)
	}
	if len(f.messenger.edits) != 0 {
		t.Fatal("mismatch must not edit the challenge")
	}
	if len(f.messenger.answers) != 1 || !f.messenger.answers[0].alert || f.messenger.answers[0].text != "❌ This verification is not for you." {
		t.Fatalf("expected a visible rejection, got %#v", f.messenger.answers)
	}
	if challenge, err := f.store.GetChallenge(context.Background(), -100, 42); err != nil || challenge.State != db.ChallengeAwaitingVerification {
		t.Fatalf("challenge must stay pending: %#v err=%v", challenge, err)
	}
	if f.machine.scheduler.Pending() != 1 {
		t.Fatal("expiry must stay scheduled")
	}
}

func TestHandleResponseMatchLiftsRestriction(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.join(t)

	decision, err := f.machine.HandleResponse(context.Background(), Response{
		CallbackID:  "cb",
		ChatID:      -100,
		MessageID:   501,
		ResponderID: 42,
		Data:        "captcha:42:nonce-1",
	})
	if err != nil || decision != DecisionVerified {
		t.Fatalf("expected verified, got %s err=%v", decision, err)
	}
	lift := f.messenger.restricts[len(f.messenger.restricts)-1]
	want := telegram.Capabilities{Messages: true, Media: true, WebPagePreviews: true, Other: true}
	if lift.userID != 42 || lift.caps != want {
		t.Fatalf("expected all four capabilities lifted, got %#v", lift)
	}
	if f.messenger.edits[501] != "✅ Verified — welcome!" {
		t.Fatalf("unexpected confirmation: %q", f.messenger.edits[501])
	}
	if got := strings.Join(f.auditor.actions, ","); got != "join_restriction,verified" {
		t.Fatalf("unexpected audit: %s", got)
	}
	if _, err := f.store.GetChallenge(context.Background(), -100, 42); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("challenge must be removed, got %v", err)
	}
	if f.machine.scheduler.Pending() != 0 || !f.timers[0].stopped {
		t.Fatal("expiry timer must be cancelled")
	}

	again, err := f.machine.HandleResponse(context.Background(), Response{CallbackID: "cb2", ChatID: -100, ResponderID: 42, Data: "captcha:42:nonce-1"})
	if err != nil || again != DecisionStale {
		t.Fatalf("second press must be stale, got %s err=%v", again, err)
	}
}

func TestHandleResponseStaleNonce(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.join(t)

	decision, err := f.machine.HandleResponse(context.Background(), Response{CallbackID: "cb", ChatID: -100, ResponderID: 42, Data: "captcha:42:other"})
	if err != nil || decision != DecisionStale {
		t.Fatalf("expected stale, got %s err=%v", decision, err)
	}
	if len(f.messenger.restricts) != 1 {
		t.Fatal("stale press must not lift the restriction")
	}
}

func TestExpiryKicksUnverifiedMember(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.join(t)

	f.timers[0].fn()

	if len(f.messenger.kicks) != 1 || f.messenger.kicks[0] != 42 {
		t.Fatalf("expected kick, got %v", f.messenger.kicks)
	}
	if f.messenger.edits[501] != "⌛ Verification expired." {
		t.Fatalf("unexpected edit: %q", f.messenger.edits[501])
	}
	if got := strings.Join(f.auditor.actions, ","); got != "join_restriction,expired" {
		t.Fatalf("unexpected audit: %s", got)
	}
	if _, err := f.store.GetChallenge(context.Background(), -100, 42); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("kicked challenge must be removed, got %v", err)
	}
}

func TestExpiryWithoutKickKeepsRestriction(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryNone)
	f.join(t)

	f.timers[0].fn()

	if len(f.messenger.kicks) != 0 {
		t.Fatal("no kick expected")
	}
	challenge, err := f.store.GetChallenge(context.Background(), -100, 42)
	if err != nil || challenge.State != db.ChallengeExpired {
		t.Fatalf("challenge must be marked expired: %#v err=%v", challenge, err)
	}
	if len(f.messenger.restricts) != 1 {
		t.Fatal("member must stay restricted")
	}

	decision, _ := f.machine.HandleResponse(context.Background(), Response{CallbackID: "cb", ChatID: -100, ResponderID: 42, Data: "captcha:42:nonce-1"})
	if decision != DecisionStale {
		t.Fatalf("expired challenge cannot be verified, got %s", decision)
	}
}

func TestSweepSettlesChallengesWithoutTimers(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	past := f.now.Add(-2 * time.Minute)
	_ = f.store.UpsertChallenge(context.Background(), &db.Challenge{
		ChatID:    -100,
		UserID:    9,
		Nonce:     "lost",
		MessageID: 77,
		State:     db.ChallengeAwaitingVerification,
		IssuedAt:  past,
		ExpiresAt: past.Add(time.Minute),
	})

	n, err := f.machine.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one swept challenge, got %d err=%v", n, err)
	}
	if len(f.messenger.kicks) != 1 || f.messenger.kicks[0] != 9 {
		t.Fatalf("expected kick of the stale joiner, got %v", f.messenger.kicks)
	}
	if n, _ := f.machine.Sweep(context.Background()); n != 0 {
		t.Fatalf("second sweep must find nothing, got %d", n)
	}
}

func TestHandleJoinSurvivesSendFailure(t *testing.T) {
	t.Parallel()

	f := newMachineFixture(ExpiryKick)
	f.messenger.sendErr = errors.New("forbidden")
	f.join(t)

	if _, err := f.store.GetChallenge(context.Background(), -100, 42); err != nil {
		t.Fatalf("challenge must still be persisted: %v", err)
	}
}

type panickingStore struct {
	*memStore
	calls chan struct{}
}

func (s *panickingStore) GetExpiredChallenges(context.Context, time.Time) ([]*db.Challenge, error) {
	s.calls <- struct{}{}
	panic("corrupted row")
}

func TestStopReturnsAfterSweepKeepsPanicking(t *testing.T) {
	t.Parallel()

	store := &panickingStore{memStore: newMemStore(), calls: make(chan struct{}, sweepPanics+1)}
	m := NewMachine(store, newStubMessenger(), &stubAuditor{}, nil, Config{
		Timeout:         time.Minute,
		ExpiryAction:    ExpiryKick,
		DefaultLanguage: "en",
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i <= sweepPanics; i++ {
		select {
		case <-store.calls:
		case <-time.After(time.Second):
			t.Fatalf("sweep run %d did not happen", i+1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop must not wait for a stopped sweep: %v", err)
	}
}
