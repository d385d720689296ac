// Package loop is the kernel's single thread of control. Capsule handlers,
// arbiter logic and hardware completions all run here, one at a time and
// to completion. Hardware models raise an interrupt with Latch; the handler
// runs only after the current one returns.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const defaultDepth = 64

var ErrLoopFull = errors.New("loop_full")

// Loop runs two kinds of handler. Latched interrupts are never lost and are
// serviced first, oldest first. Posted handlers are best effort: the queue
// is bounded and a full queue drops them.
type Loop struct {
	q chan func()

	mu      sync.Mutex
	latched []func()
	wake    chan struct{}

	dropped atomic.Uint32
	ran     atomic.Uint64
}

// New creates a loop whose posted-handler queue holds depth entries.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Loop{q: make(chan func(), depth), wake: make(chan struct{}, 1)}
}

// Post queues fn for later execution. It never blocks; a full queue drops
// the handler and reports ErrLoopFull.
func (l *Loop) Post(fn func()) error {
	select {
	case l.q <- fn:
		return nil
	default:
		l.dropped.Add(1)
		println("[loop] handler dropped, queue full")
		return ErrLoopFull
	}
}

// Latch records a hardware completion. It never blocks and never drops.
func (l *Loop) Latch(fn func()) {
	l.mu.Lock()
	l.latched = append(l.latched, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	if len(l.latched) > 0 {
		fn := l.latched[0]
		l.latched[0] = nil
		l.latched = l.latched[1:]
		l.mu.Unlock()
		return fn, true
	}
	l.mu.Unlock()
	select {
	case fn := <-l.q:
		return fn, true
	default:
		return nil, false
	}
}

// RunUntilIdle runs handlers on the calling goroutine until none remain,
// including those queued by the handlers themselves. It returns how many
// ran. Tests use it to step the kernel deterministically.
func (l *Loop) RunUntilIdle() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		l.exec(fn)
		n++
	}
}

// Step runs at most one handler.
func (l *Loop) Step() bool {
	fn, ok := l.next()
	if ok {
		l.exec(fn)
	}
	return ok
}

// Run services handlers until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		if fn, ok := l.next(); ok {
			l.exec(fn)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case fn := <-l.q:
			l.exec(fn)
		case <-l.wake:
		}
	}
}

func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.q) + len(l.latched)
}

func (l *Loop) Dropped() uint32  { return l.dropped.Load() }
func (l *Loop) Executed() uint64 { return l.ran.Load() }

func (l *Loop) exec(fn func()) {
	if fn == nil {
		return
	}
	fn()
	l.ran.Add(1)
}
