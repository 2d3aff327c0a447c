package foreground

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-process event log fed through Record.
type MemorySource struct {
	mu        sync.RWMutex
	events    []Event
	retention time.Duration
}

// NewMemorySource creates an empty log. Events older than retention,
// measured from the newest event, are dropped on write. Zero keeps all.
func NewMemorySource(retention time.Duration) *MemorySource {
	return &MemorySource{retention: retention}
}

// Record appends events, keeping the log ordered by timestamp.
func (m *MemorySource) Record(ctx context.Context, events ...Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		// Events normally arrive in order; insert to keep it sorted when not.
		i := sort.Search(len(m.events), func(i int) bool {
			return m.events[i].Timestamp.After(ev.Timestamp)
		})
		m.events = append(m.events, Event{})
		copy(m.events[i+1:], m.events[i:])
		m.events[i] = ev
	}

	if m.retention > 0 && len(m.events) > 0 {
		cutoff := m.events[len(m.events)-1].Timestamp.Add(-m.retention)
		drop := sort.Search(len(m.events), func(i int) bool {
			return !m.events[i].Timestamp.Before(cutoff)
		})
		if drop > 0 {
			m.events = append([]Event(nil), m.events[drop:]...)
		}
	}
	return nil
}

// QueryEvents returns events with from <= timestamp <= to.
func (m *MemorySource) QueryEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.Search(len(m.events), func(i int) bool {
		return !m.events[i].Timestamp.Before(from)
	})
	out := make([]Event, 0)
	for _, ev := range m.events[start:] {
		if ev.Timestamp.After(to) {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of buffered events.
func (m *MemorySource) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
