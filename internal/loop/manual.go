package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by a virtual clock.
// Posted closures run to completion in FIFO order before Post returns to the
// outermost caller; timers fire only from Advance. Not safe for concurrent use.
type Manual struct {
	now     time.Time
	queue   []func()
	running bool
	timers  []*manualTimer
	seq     int
}

type manualTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual creates a manual scheduler starting at a fixed instant.
func NewManual() *Manual {
	return &Manual{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	return m.now
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
	if m.running {
		return
	}

	m.running = true
	defer func() { m.running = false }()
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		next()
	}
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Handle {
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)

	for {
		m.prune()
		if len(m.timers) == 0 || m.timers[0].at.After(target) {
			break
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at
		t.stopped = true
		m.Post(t.fn)
	}
	m.now = target
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.prune()
	return len(m.timers)
}

func (m *Manual) prune() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
}
