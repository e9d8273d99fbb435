package moderation

import (
	"sync"
	"time"
)

// FloodWindow is how far back the rate tracker looks.
const FloodWindow = 7 * time.Second

type memberKey struct {
	chatID int64
	userID int64
}

// RateTracker counts recent messages per chat member. State is process-local and
// starts empty after a restart.
type RateTracker struct {
	mu      sync.Mutex
	horizon time.Duration
	windows map[memberKey][]time.Time
	now     func() time.Time
}

func NewRateTracker() *RateTracker {
	return &RateTracker{
		horizon: FloodWindow,
		windows: make(map[memberKey][]time.Time),
		now:     time.Now,
	}
}

// RecordAndCheck stores the current message and reports whether the member sent more
// than limit messages within the window, this one included.
func (t *RateTracker) RecordAndCheck(chatID, userID int64, limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := memberKey{chatID: chatID, userID: userID}
	hits := prune(append(t.windows[key], now), now, t.horizon)
	t.windows[key] = hits
	return len(hits) > limit
}

// Sweep drops members whose whole window is already outside the horizon and returns
// how many were dropped.
func (t *RateTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dropped := 0
	for key, hits := range t.windows {
		if len(prune(hits, now, t.horizon)) == 0 {
			delete(t.windows, key)
			dropped++
		}
	}
	return dropped
}

func (t *RateTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// prune keeps hits not older than horizon; hits are in arrival order.
func prune(hits []time.Time, now time.Time, horizon time.Duration) []time.Time {
	idx := 0
	for _, hit := range hits {
		if now.Sub(hit) <= horizon {
			break
		}
		idx++
	}
	return hits[idx:]
}
