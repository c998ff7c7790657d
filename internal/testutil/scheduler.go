package testutil

import (
	"sync"
	"time"
)

// ManualScheduler records repeating tasks and runs them only when a test
// fires them. It satisfies polling.Scheduler.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	interval time.Duration
	fn       func()
	stopped  bool
}

// NewManualScheduler creates a scheduler with no tasks.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every registers fn; it never runs on its own.
func (s *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	task := &manualTask{interval: interval, fn: fn}
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		task.stopped = true
		s.mu.Unlock()
	}
}

// Active returns the number of registered tasks that were not stopped.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Registered returns the number of tasks ever registered.
func (s *ManualScheduler) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tick runs every active task once, synchronously, in registration order.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	var fns []func()
	for _, t := range s.tasks {
		if !t.stopped {
			fns = append(fns, t.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
