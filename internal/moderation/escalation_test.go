package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
)

func newTestEscalator(store *memStore, messenger *stubMessenger, auditor *stubAuditor, clock *fakeClock) *Escalator {
	e := NewEscalator(NewLedger(store), messenger, auditor, nil, EscalatorConfig{
		DefaultWarnLimit: 3,
		MuteDuration:     time.Hour,
		DefaultLanguage:  "en",
	})
	e.now = clock.Now
	return e
}

func TestLedgerIncrementIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewLedger(newMemStore())
	for k := 1; k <= 7; k++ {
		n, err := ledger.Increment(ctx, -100, 42)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != k {
			t.Fatalf("expected %d, got %d", k, n)
		}
	}
	if err := ledger.Reset(ctx, -100, 42); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := ledger.Reset(ctx, -100, 42); err != nil {
		t.Fatalf("reset of absent record must be a no-op: %v", err)
	}
	if n, _ := ledger.Count(ctx, -100, 42); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}
}

func TestEscalateMutesExactlyAtLimitAndResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := newMemStore()
	messenger := &stubMessenger{}
	auditor := &stubAuditor{}
	e := newTestEscalator(store, messenger, auditor, clock)
	settings := db.DefaultSettings(-100)
	offense := Offense{ChatID: -100, UserID: 42, UserName: "Bob <b>", Reason: ReasonFlood}

	for i := 1; i <= 2; i++ {
		outcome, err := e.Escalate(ctx, offense, settings)
		if err != nil {
			t.Fatalf("escalate: %v", err)
		}
		if outcome.Count != i || outcome.LimitReached || outcome.Muted {
			t.Fatalf("unexpected outcome %d: %#v", i, outcome)
		}
	}
	if messenger.mutes() != 0 {
		t.Fatal("no mute expected below the limit")
	}

	outcome, err := e.Escalate(ctx, offense, settings)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if !outcome.LimitReached || !outcome.Muted || outcome.Count != 0 || outcome.Limit != 3 {
		t.Fatalf("unexpected outcome at limit: %#v", outcome)
	}
	if n, _ := store.GetInfractionCount(ctx, -100, 42); n != 0 {
		t.Fatalf("ledger must be reset after mute, got %d", n)
	}

	mute := messenger.restrictions[0]
	if mute.caps != telegram.NoCapabilities() || !mute.until.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected mute: %#v", mute)
	}

	wantActions := []string{db.ActionWarn, db.ActionWarn, db.ActionWarn, db.ActionMute}
	if got := auditor.actions(); strings.Join(got, ",") != strings.Join(wantActions, ",") {
		t.Fatalf("unexpected audit trail: %v", got)
	}
	if auditor.records[3].reason != MuteReason {
		t.Fatalf("unexpected mute reason: %q", auditor.records[3].reason)
	}

	if len(messenger.sent) != 4 {
		t.Fatalf("expected 3 warnings and 1 mute notice, got %d", len(messenger.sent))
	}
	first := messenger.sent[0].Text
	if !strings.Contains(first, "(1/3)") || !strings.Contains(first, "Reason: Flooding") || !strings.Contains(first, "Bob &lt;b&gt;") {
		t.Fatalf("unexpected warning text: %q", first)
	}
	if !strings.Contains(messenger.sent[3].Text, "muted for 1 hour") {
		t.Fatalf("unexpected mute notice: %q", messenger.sent[3].Text)
	}

	outcome, _ = e.Escalate(ctx, offense, settings)
	if outcome.Count != 1 {
		t.Fatalf("cycle must restart after mute, got %d", outcome.Count)
	}
}

func TestEscalateResetsEvenWhenMuteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	messenger := &stubMessenger{restrictErr: errPlatform}
	auditor := &stubAuditor{}
	e := newTestEscalator(store, messenger, auditor, newFakeClock())
	settings := &db.Settings{ID: -100, AntispamEnabled: true, WarnLimit: 1}

	outcome, err := e.Escalate(ctx, Offense{ChatID: -100, UserID: 42, Reason: "manual"}, settings)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if !outcome.LimitReached || outcome.Muted {
		t.Fatalf("expected a failed mute at the chat limit, got %#v", outcome)
	}
	if n, _ := store.GetInfractionCount(ctx, -100, 42); n != 0 {
		t.Fatalf("ledger must be reset after failed mute, got %d", n)
	}
	for _, action := range auditor.actions() {
		if action == db.ActionMute {
			t.Fatal("a failed mute must not be audited as applied")
		}
	}
}

func TestEscalateConcurrentInfractionsMuteOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	messenger := &stubMessenger{}
	auditor := &stubAuditor{}
	e := newTestEscalator(store, messenger, auditor, newFakeClock())
	settings := db.DefaultSettings(-100)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Escalate(ctx, Offense{ChatID: -100, UserID: 42, Reason: ReasonFlood}, settings); err != nil {
				t.Errorf("escalate: %v", err)
			}
		}()
	}
	wg.Wait()

	if messenger.mutes() != 1 {
		t.Fatalf("expected exactly one mute, got %d", messenger.mutes())
	}
	if n, _ := store.GetInfractionCount(ctx, -100, 42); n != 0 {
		t.Fatalf("expected reset counter, got %d", n)
	}
}

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		time.Hour:        "1 hour",
		3 * time.Hour:    "3 hours",
		30 * time.Minute: "30 min",
		90 * time.Second: "1m30s",
	}
	for d, want := range cases {
		if got := HumanizeDuration(d, "en"); got != want {
			t.Fatalf("%v: expected %q, got %q", d, want, got)
		}
	}
}

func TestPardonRestartsTheCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	e := newTestEscalator(store, &stubMessenger{}, &stubAuditor{}, newFakeClock())
	settings := db.DefaultSettings(-100)
	offense := Offense{ChatID: -100, UserID: 42, Reason: ReasonCaps}

	for i := 0; i < 2; i++ {
		if _, err := e.Escalate(ctx, offense, settings); err != nil {
			t.Fatalf("escalate: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := e.Pardon(ctx, -100, 42); err != nil {
			t.Fatalf("pardon must be idempotent: %v", err)
		}
	}
	outcome, err := e.Escalate(ctx, offense, settings)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if outcome.Count != 1 || outcome.LimitReached {
		t.Fatalf("count must restart after pardon: %#v", outcome)
	}
}
