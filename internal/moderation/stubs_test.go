package moderation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iamwavecut/warden/internal/db"
	"github.com/iamwavecut/warden/internal/infrastructure/telegram"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	mu       sync.Mutex
	counts   map[memberKey]int
	settings map[int64]*db.Settings
	words    map[int64][]string
}

func newMemStore() *memStore {
	return &memStore{
		counts:   map[memberKey]int{},
		settings: map[int64]*db.Settings{},
		words:    map[int64][]string{},
	}
}

func (s *memStore) GetInfractionCount(_ context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[memberKey{chatID, userID}], nil
}

func (s *memStore) IncrementInfraction(_ context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{chatID, userID}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *memStore) DeleteInfraction(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, memberKey{chatID, userID})
	return nil
}

func (s *memStore) GetSettings(_ context.Context, chatID int64) (*db.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings, ok := s.settings[chatID]; ok {
		copied := *settings
		return &copied, nil
	}
	return db.DefaultSettings(chatID), nil
}

func (s *memStore) ListFilterWords(_ context.Context, chatID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[chatID], nil
}

type restriction struct {
	chatID int64
	userID int64
	caps   telegram.Capabilities
	until  time.Time
}

type stubMessenger struct {
	mu           sync.Mutex
	sent         []telegram.OutgoingMessage
	deleted      []int
	restrictions []restriction
	deleteErr    error
	restrictErr  error
}

func (m *stubMessenger) Send(_ context.Context, msg telegram.OutgoingMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return len(m.sent), nil
}

func (m *stubMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *stubMessenger) Restrict(_ context.Context, chatID, userID int64, caps telegram.Capabilities, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restrictErr != nil {
		return m.restrictErr
	}
	m.restrictions = append(m.restrictions, restriction{chatID, userID, caps, until})
	return nil
}

func (m *stubMessenger) mutes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.restrictions)
}

type auditRecord struct {
	chatID int64
	userID *int64
	action string
	reason string
}

type stubAuditor struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *stubAuditor) Record(_ context.Context, chatID int64, userID *int64, action, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{chatID, userID, action, reason})
	return nil
}

func (a *stubAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.action)
	}
	return out
}

var errPlatform = errors.New("Bad Request: not enough rights")
