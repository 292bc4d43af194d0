package timer

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Time only moves when
// Advance is called; due callbacks run synchronously on the advancing
// goroutine, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  uint64
	pending []*manualTimer
}

// NewManual creates a manual scheduler starting at time zero.
func NewManual() *Manual {
	return &Manual{}
}

type manualTimer struct {
	m        *Manual
	id       uint64
	deadline time.Duration
	fn       func()
	stopped  bool
}

// AfterFunc registers fn to fire once the scheduler has advanced d past
// the current manual time.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.nextID++
	t := &manualTimer{
		m:        m,
		id:       m.nextID,
		deadline: m.now + d,
		fn:       fn,
	}
	m.pending = append(m.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.stopped {
		return false
	}
	t.stopped = true
	for i, p := range t.m.pending {
		if p == t {
			t.m.pending = append(t.m.pending[:i], t.m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the manual clock forward by d, firing every timer whose
// deadline is reached. Callbacks may schedule further timers; those fire
// too if they fall within the advanced window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d

	for {
		t := m.popDueLocked(target)
		if t == nil {
			break
		}
		m.now = t.deadline
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}

	m.now = target
	m.mu.Unlock()
}

// popDueLocked removes and returns the earliest timer due at or before
// target, or nil. Ties fire in scheduling order.
func (m *Manual) popDueLocked(target time.Duration) *manualTimer {
	if len(m.pending) == 0 {
		return nil
	}
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].deadline != m.pending[j].deadline {
			return m.pending[i].deadline < m.pending[j].deadline
		}
		return m.pending[i].id < m.pending[j].id
	})
	t := m.pending[0]
	if t.deadline > target {
		return nil
	}
	t.stopped = true
	m.pending = m.pending[1:]
	return t
}

// PendingCount returns the number of armed timers. Useful for asserting
// that cancellation actually released a timer.
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

var _ Scheduler = (*Manual)(nil)
