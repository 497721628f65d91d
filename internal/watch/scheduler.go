package watch

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks by key. Arming a key again before its task ran replaces the task
// and restarts the delay, so a burst of changes of one file runs one task.
type Scheduler struct {
	lock   sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{timers: map[string]*time.Timer{}}
}

// Arm schedules fn to run after the delay, replacing the pending task of the key.
func (s *Scheduler) Arm(key string, delay time.Duration, fn func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.lock.Lock()
		if s.timers[key] != timer {
			s.lock.Unlock()
			return
		}
		delete(s.timers, key)
		s.lock.Unlock()
		fn()
	})
	s.timers[key] = timer
}

// Cancel drops the pending task of the key, it returns false if there was none.
func (s *Scheduler) Cancel(key string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	t, ok := s.timers[key]
	if ok {
		t.Stop()
		delete(s.timers, key)
	}
	return ok
}

// Pending returns the number of tasks waiting to run.
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.timers)
}

// Stop drops every pending task.
func (s *Scheduler) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
