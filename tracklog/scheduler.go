// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"sync"
	"time"
)

// Scheduler coalesces bursts of local edits into a single outbound flush.
// Each ScheduleFlush call resets the quiet-period timer rather than stacking
// flushes, so rapid typing produces exactly one network round trip once the
// burst settles. With a non-positive debounce the flush runs immediately and
// synchronously in the caller's goroutine.
type Scheduler struct {
	debounce time.Duration
	flush    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewScheduler creates a scheduler invoking flush after the debounce quiet
// period.
func NewScheduler(debounce time.Duration, flush func()) *Scheduler {
	return &Scheduler{debounce: debounce, flush: flush}
}

// ScheduleFlush requests a flush. Idempotent while a flush is pending.
func (s *Scheduler) ScheduleFlush() {
	if s.debounce <= 0 {
		s.flush()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.timer = nil
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.flush()
		}
	})
}

// Stop cancels any pending flush and rejects future ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
