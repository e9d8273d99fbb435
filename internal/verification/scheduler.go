package verification

import (
	"sync"
	"time"
)

type timerKey struct {
	chatID int64
	userID int64
}

type stopper interface {
	Stop() bool
}

type scheduled struct {
	timer stopper
	gen   uint64
}

// Scheduler runs one delayed task per chat member. Scheduling again replaces the
// previous task.
type Scheduler struct {
	mu        sync.Mutex
	tasks     map[timerKey]scheduled
	gen       uint64
	afterFunc func(d time.Duration, f func()) stopper
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: make(map[timerKey]scheduled),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

func (s *Scheduler) Schedule(chatID, userID int64, delay time.Duration, fn func()) {
	key := timerKey{chatID: chatID, userID: userID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	timer := s.afterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.tasks[key]
		if !ok || current.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = scheduled{timer: timer, gen: gen}
}

// Cancel reports whether a pending task was removed.
func (s *Scheduler) Cancel(chatID, userID int64) bool {
	key := timerKey{chatID: chatID, userID: userID}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, key)
	return true
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
