// Package activity keeps a bounded in-memory feed of recent platform events,
// projected from the event bus for the care-team dashboard.
package activity

import (
	"context"
	"sync"

	"github.com/recoverguard/platform/internal/shared/events"
)

// Feed is a ring buffer of the most recent events, newest readable first.
type Feed struct {
	mu       sync.RWMutex
	entries  []events.Event
	capacity int
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 100
	}
	return &Feed{capacity: capacity}
}

// Record appends one event, evicting the oldest when full. It satisfies
// events.Handler so it can be subscribed directly to the bus.
func (f *Feed) Record(_ context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, event)
	if len(f.entries) > f.capacity {
		f.entries = f.entries[len(f.entries)-f.capacity:]
	}
	return nil
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (f *Feed) Recent(limit int) []events.Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]events.Event, n)
	for i := 0; i < n; i++ {
		out[i] = f.entries[len(f.entries)-1-i]
	}
	return out
}
