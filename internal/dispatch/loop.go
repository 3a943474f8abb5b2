// Package dispatch serialises timer, response and connection-error events
// into a single worker that feeds the keepalive driver, and provides the
// timer scheduling the driver requests.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"

	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

// Config configures a Loop.
type Config struct {
	Clock  clock.Clock
	Logger pslog.Logger
}

// Loop is an unbounded FIFO of events drained by Run. Submissions never
// block, so producers (timers, transport goroutines) stay decoupled from
// session processing.
type Loop struct {
	clock  clock.Clock
	logger pslog.Logger

	mu       sync.Mutex
	inbox    *queue.Queue
	timer    clock.Timer
	timerGen uint64
	closed   bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop constructs an idle loop.
func NewLoop(cfg Config) *Loop {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Loop{
		clock:  clk,
		logger: svcfields.WithSubsystem(cfg.Logger, "session.dispatch"),
		inbox:  queue.New(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Submit enqueues ev. It reports false once the loop is closed.
func (l *Loop) Submit(ev Event) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Trace("session.dispatch.discarded", "kind", ev.Kind.String())
		return false
	}
	l.inbox.Add(ev)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Schedule arranges for a TimerFired event after d, replacing any pending
// timer.
func (l *Loop) Schedule(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timerGen++
	gen := l.timerGen
	l.timer = l.clock.AfterFunc(d, func() {
		l.mu.Lock()
		current := gen == l.timerGen
		if current {
			l.timer = nil
		}
		l.mu.Unlock()
		if current {
			l.Submit(Event{Kind: TimerFired})
		}
	})
}

// Cancel drops the pending timer, if any.
func (l *Loop) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelLocked()
}

func (l *Loop) cancelLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

// Pending reports the number of queued events.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inbox.Length()
}

// Run delivers queued events to h until ctx is done or Close is called.
// Events still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context, h Handler) error {
	for {
		for {
			ev, ok := l.next()
			if !ok {
				break
			}
			h.Handle(ev)
		}
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.inbox.Length() == 0 {
		return Event{}, false
	}
	return l.inbox.Remove().(Event), true
}

// Close stops the timer, rejects further submissions and releases Run.
// It is idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.cancelLocked()
		dropped := l.inbox.Length()
		for l.inbox.Length() > 0 {
			l.inbox.Remove()
		}
		l.mu.Unlock()
		close(l.done)
		if dropped > 0 {
			l.logger.Debug("session.dispatch.closed", "dropped", dropped)
		}
	})
}

// Done is closed once the loop has been closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
