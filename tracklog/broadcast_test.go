// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package tracklog

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	var got1, got2 atomic.Int32

	unsub1 := b.Subscribe(func(records []Record) { got1.Add(int32(len(records))) })
	defer unsub1()
	unsub2 := b.Subscribe(func(records []Record) { got2.Add(int32(len(records))) })
	defer unsub2()

	b.Publish([]Record{{ID: "a"}, {ID: "b"}})
	b.Wait()

	require.Equal(t, int32(2), got1.Load())
	require.Equal(t, int32(2), got2.Load())
}

func TestBroadcastIsAtMostOncePerPublish(t *testing.T) {
	b := NewBroadcaster(nil)
	var calls atomic.Int32
	unsub := b.Subscribe(func([]Record) { calls.Add(1) })
	defer unsub()

	b.Publish([]Record{{ID: "a"}})
	b.Wait()
	require.Equal(t, int32(1), calls.Load(), "no replay, exactly one delivery per publish")
}

func TestBroadcastSurvivesPanickingSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	var delivered atomic.Int32

	unsubBad := b.Subscribe(func([]Record) { panic("bad subscriber") })
	defer unsubBad()
	unsubGood := b.Subscribe(func([]Record) { delivered.Add(1) })
	defer unsubGood()

	b.Publish([]Record{{ID: "a"}})
	b.Wait()
	require.Equal(t, int32(1), delivered.Load(), "a dispatch failure is logged, not propagated")
}

func TestBroadcastUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(nil)
	var calls atomic.Int32
	unsub := b.Subscribe(func([]Record) { calls.Add(1) })
	unsub()

	b.Publish([]Record{{ID: "a"}})
	b.Wait()
	require.Equal(t, int32(0), calls.Load())
}

func TestBroadcastHandsEachSubscriberItsOwnCopy(t *testing.T) {
	b := NewBroadcaster(nil)
	done := make(chan []Record, 1)
	unsub := b.Subscribe(func(records []Record) {
		records[0].Label = "mutated"
		done <- records
	})
	defer unsub()

	original := []Record{{ID: "a", Label: "original"}}
	b.Publish(original)
	b.Wait()
	<-done
	require.Equal(t, "original", original[0].Label)
}
