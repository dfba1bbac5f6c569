// Package eventlooptest provides a deterministic eventloop.Scheduler for tests.
package eventlooptest

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/bmac-node/internal/eventloop"
)

// Manual is a Scheduler driven explicitly by the test.
//
// Posted callbacks run only on RunPending; timers fire only when Advance
// moves the virtual clock past their deadline. Post may be called from other
// goroutines.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	queue  []func()
	timers []*manualTimer
}

var _ eventloop.Scheduler = (*Manual)(nil)

// New returns a Manual scheduler at virtual time zero.
func New() *Manual {
	return &Manual{}
}

// Post implements eventloop.Scheduler.
func (m *Manual) Post(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// AfterFunc implements eventloop.Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, deadline: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// RunPending runs queued callbacks, including ones they post, until the
// queue is empty. It returns the number of callbacks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the virtual clock forward by d, firing due timers in
// deadline order and running everything they post.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].deadline == m.timers[j].deadline {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].deadline < m.timers[j].deadline
		})
		if len(m.timers) == 0 || m.timers[0].deadline > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.deadline
		m.queue = append(m.queue, t.fn)
		m.mu.Unlock()

		m.RunPending()
	}
}

// Now returns the virtual time elapsed since New.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// PendingTimers returns the number of armed, unfired timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type manualTimer struct {
	m        *Manual
	deadline time.Duration
	seq      int
	fn       func()
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i, other := range t.m.timers {
		if other == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			return true
		}
	}
	return false
}
