package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/db/sqlite"
)

func newTestService(t *testing.T) *service {
	t.Helper()

	ctx := context.Background()
	dbClient, err := sqlite.NewSQLiteClient(ctx, t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("new sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = dbClient.Close() })
	return NewService(&api.BotAPI{}, dbClient, "en")
}

func TestServiceGetSettingsDefaults(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	settings, err := s.GetSettings(context.Background(), -1001234567890)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	expected := db.DefaultSettings(-1001234567890)
	if *settings != *expected {
		t.Fatalf("unexpected settings: got %#v want %#v", settings, expected)
	}
}

func TestServiceLanguageResolution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestService(t)

	if got := s.GetLanguage(ctx, -1, &api.User{LanguageCode: "uk-UA"}); got != "uk" {
		t.Fatalf("expected client language, got %q", got)
	}
	if got := s.GetLanguage(ctx, -1, &api.User{LanguageCode: "de"}); got != "en" {
		t.Fatalf("expected default for unsupported client language, got %q", got)
	}

	settings := db.DefaultSettings(-1)
	settings.Language = "ru"
	if err := s.SetSettings(ctx, settings); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if got := s.GetLanguage(ctx, -1, &api.User{LanguageCode: "uk"}); got != "ru" {
		t.Fatalf("chat setting must win, got %q", got)
	}

	settings.Language = "xx"
	if err := s.SetSettings(ctx, settings); err == nil {
		t.Fatal("expected unsupported language to be rejected")
	}
}

type recordingHandler struct {
	proceed bool
	err     error
	calls   int
	chat    *api.Chat
	user    *api.User
}

func (h *recordingHandler) Handle(_ context.Context, _ *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	h.calls++
	h.chat = chat
	h.user = user
	return h.proceed, h.err
}

func TestUpdateProcessorChain(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	first := &recordingHandler{proceed: false}
	second := &recordingHandler{proceed: true}
	up := newUpdateProcessor(first, second)
	up.now = func() time.Time { return now }

	update := &api.Update{Message: &api.Message{
		Date: int(now.Unix()),
		Chat: api.Chat{ID: -100},
		From: &api.User{ID: 42},
	}}
	if err := up.Process(context.Background(), update); err != nil {
		t.Fatalf("process: %v", err)
	}
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("chain must stop when a handler declines: %d %d", first.calls, second.calls)
	}
	if first.chat == nil || first.chat.ID != -100 || first.user == nil || first.user.ID != 42 {
		t.Fatalf("unexpected chat/user: %#v %#v", first.chat, first.user)
	}
}

func TestUpdateProcessorSkipsOutdatedUpdates(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	handler := &recordingHandler{proceed: true}
	up := newUpdateProcessor(handler)
	up.now = func() time.Time { return now }

	old := &api.Update{Message: &api.Message{Date: int(now.Add(-UpdateTimeout - time.Second).Unix()), Chat: api.Chat{ID: -100}}}
	if err := up.Process(context.Background(), old); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 0 {
		t.Fatal("outdated update must be skipped")
	}

	member := &api.Update{ChatMember: &api.ChatMemberUpdated{
		Chat: api.Chat{ID: -100},
		From: api.User{ID: 7},
		Date: int(now.Unix()),
	}}
	if err := up.Process(context.Background(), member); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 1 || handler.chat == nil || handler.chat.ID != -100 || handler.user.ID != 7 {
		t.Fatalf("chat member update must resolve chat and user: %#v", handler)
	}
}

func TestUpdateProcessorWrapsHandlerErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	up := newUpdateProcessor(&recordingHandler{err: cause})
	err := up.Process(context.Background(), &api.Update{CallbackQuery: &api.CallbackQuery{From: &api.User{ID: 1}}})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if err := up.Process(context.Background(), nil); err == nil {
		t.Fatal("nil update must fail")
	}
}

func TestIsServiceMessage(t *testing.T) {
	t.Parallel()

	if !IsServiceMessage(&api.Message{NewChatMembers: []api.User{{ID: 1}}}) {
		t.Fatal("join must be a service message")
	}
	if IsServiceMessage(&api.Message{Text: "hi"}) || IsServiceMessage(nil) {
		t.Fatal("plain message is not a service message")
	}
	if got := GetFullName(&api.User{FirstName: "Ann", LastName: "Lee"}); got != "Ann Lee" {
		t.Fatalf("unexpected name %q", got)
	}
}
