// Package loop provides the serial dispatch loop each lighting group runs on.
//
// All reactions of a group (change notifications and timer expirations) are
// executed one at a time on the group's loop, so group state needs no locking.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Handle identifies a pending deferred callback.
type Handle interface {
	// Stop cancels the callback. It reports whether the callback was still pending.
	Stop() bool
}

// Scheduler runs closures serially and defers them by a duration.
type Scheduler interface {
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Handle
}

// Loop is a Scheduler backed by a single worker goroutine.
// Posting never blocks, including from inside a running closure.
type Loop struct {
	name string

	mu      sync.Mutex
	pending []func()
	closed  bool

	wake      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a loop and starts its worker.
func New(name string) *Loop {
	l := &Loop{
		name:    name,
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.worker()

	log.Debug().Str("loop", name).Msg("Dispatch loop started")
	return l
}

// Post queues fn for execution on the loop. Closures posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		log.Warn().Str("loop", l.name).Msg("Loop closed, dropping callback")
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn to the loop once d has elapsed, unless stopped first.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	h := &timerHandle{}
	h.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			// Stop may have been called after the timer fired but before
			// the callback reached the head of the queue.
			if h.stopped.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return h
}

func (l *Loop) worker() {
	defer close(l.done)

	for {
		select {
		case <-l.closing:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				l.run(fn)
			}
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("loop", l.name).
				Msg("Loop callback panicked")
		}
	}()
	fn()
}

// Close stops the worker after the closure it is currently running.
// Queued closures are discarded.
func (l *Loop) Close(ctx context.Context) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.pending = nil
		l.mu.Unlock()
		close(l.closing)
	})

	select {
	case <-l.done:
		log.Debug().Str("loop", l.name).Msg("Dispatch loop stopped")
	case <-ctx.Done():
		log.Warn().Str("loop", l.name).Msg("Dispatch loop shutdown timed out")
	}
}

type timerHandle struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (h *timerHandle) Stop() bool {
	h.timer.Stop()
	return h.stopped.CompareAndSwap(false, true)
}
