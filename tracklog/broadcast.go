// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"log/slog"
	"sync"
)

// Broadcaster fans the just-persisted active record set out to in-process
// subscribers. Delivery is deferred (never in the publisher's call stack, so
// a subscriber can safely re-enter the session) and best-effort at-most-once
// per publish: a panicking subscriber is logged and skipped, with no replay.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]func([]Record)
	next int
	wg   sync.WaitGroup
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger, subs: make(map[int]func([]Record))}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *Broadcaster) Subscribe(fn func([]Record)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the record set to the subscribers registered at publish
// time. Each subscriber receives its own copy of the slice.
func (b *Broadcaster) Publish(records []Record) {
	b.mu.Lock()
	targets := make([]func([]Record), 0, len(b.subs))
	for _, fn := range b.subs {
		targets = append(targets, fn)
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, fn := range targets {
			snapshot := make([]Record, len(records))
			for i, r := range records {
				snapshot[i] = r.Clone()
			}
			b.deliver(fn, snapshot)
		}
	}()
}

func (b *Broadcaster) deliver(fn func([]Record), records []Record) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Warn("Subscriber panicked during broadcast", "panic", rec)
		}
	}()
	fn(records)
}

// Wait blocks until all in-flight deliveries have completed. Test helper.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}
