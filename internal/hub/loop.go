package hub

import (
	"context"
	"sync"
	"time"
)

// Loop runs posted tasks one at a time, in FIFO order, on a single goroutine.
// Transport events, reconnect timers, health ticks and subscriber notification
// all execute here, so handlers never interleave.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	running bool
	timers  map[*Timer]struct{}
}

// NewLoop creates an idle loop. Call Run to start processing.
func NewLoop() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		timers: make(map[*Timer]struct{}),
	}
}

// Post enqueues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits for it to run. It must not be called from a loop task.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPending executes queued tasks on the calling goroutine until the queue is
// empty, including tasks posted while draining. It returns the number executed.
// Run uses it internally; tests use it to process events deterministically.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			n++
		}
	}
}

// Run processes tasks until ctx is done, then closes the loop and stops its timers.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	defer l.close()
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

// Closed reports whether the loop no longer accepts work.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	timers := make([]*Timer, 0, len(l.timers))
	for t := range l.timers {
		timers = append(timers, t)
	}
	l.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}

// Timer is a one-shot or periodic task scheduled onto a Loop.
type Timer struct {
	loop    *Loop
	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	ticker  *time.Ticker
	done    chan struct{}
}

// AfterFunc posts fn to the loop once d has elapsed. A zero or negative d posts
// immediately without starting a runtime timer.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}
	run := func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			l.forget(t)
			fn()
		}
	}
	if d <= 0 {
		l.Post(run)
		return t
	}
	l.remember(t)
	t.timer = time.AfterFunc(d, func() { l.Post(run) })
	return t
}

// Every posts fn to the loop on every tick of interval until the timer is stopped.
func (l *Loop) Every(interval time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, ticker: time.NewTicker(interval), done: make(chan struct{})}
	l.remember(t)
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				l.Post(func() {
					t.mu.Lock()
					stopped := t.stopped
					t.mu.Unlock()
					if !stopped {
						fn()
					}
				})
			}
		}
	}()
	return t
}

// Stop cancels the timer. A task already queued by the timer will not run fn.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
	t.loop.forget(t)
}

func (l *Loop) remember(t *Timer) {
	l.mu.Lock()
	l.timers[t] = struct{}{}
	l.mu.Unlock()
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}
