package timer

import (
	"sync"
	"time"
)

// Manual is a virtual clock. Time only moves through Advance, which runs due
// callbacks in deadline order on the calling goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	entries []*manualHandle
	stopped bool
}

type manualHandle struct {
	m         *Manual
	at        time.Time
	seq       uint64
	fn        func()
	done      bool
	cancelled bool
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Arm(d time.Duration, fn func()) (Handle, error) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}
	m.seq++
	h := &manualHandle{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.entries = append(m.entries, h)
	return h, nil
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, h := range m.entries {
		h.cancelled = true
	}
	m.entries = nil
}

// Advance moves the clock forward by d and runs every callback that became due.
// It returns the number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	ran := 0
	for {
		h := m.nextDueLocked(target)
		if h == nil {
			break
		}
		if h.at.After(m.now) {
			m.now = h.at
		}
		h.done = true
		m.mu.Unlock()
		h.fn()
		ran++
		m.mu.Lock()
	}
	m.now = target
	m.compactLocked()
	m.mu.Unlock()
	return ran
}

// Pending returns the number of armed callbacks that have neither run nor been cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.entries {
		if !h.done && !h.cancelled {
			n++
		}
	}
	return n
}

func (m *Manual) nextDueLocked(target time.Time) *manualHandle {
	var best *manualHandle
	for _, h := range m.entries {
		if h.done || h.cancelled || h.at.After(target) {
			continue
		}
		if best == nil || h.at.Before(best.at) || (h.at.Equal(best.at) && h.seq < best.seq) {
			best = h
		}
	}
	return best
}

func (m *Manual) compactLocked() {
	n := 0
	for _, h := range m.entries {
		if h.done || h.cancelled {
			continue
		}
		m.entries[n] = h
		n++
	}
	m.entries = m.entries[:n]
}

func (h *manualHandle) Cancel() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.done || h.cancelled {
		return false
	}
	h.cancelled = true
	return true
}
