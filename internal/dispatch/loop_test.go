package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/pslog"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) Handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := append([]Event(nil), c.events...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func startLoop(t *testing.T, loop *Loop, h Handler) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), h) }()
	t.Cleanup(func() {
		loop.Close()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
	})
}

func TestLoopDeliversInSubmissionOrder(t *testing.T) {
	loop := NewLoop(Config{Logger: pslog.NoopLogger()})
	c := newCollector()
	startLoop(t, loop, c)

	loop.Submit(Event{Kind: ResponseReceived, Payload: []byte("1")})
	loop.Submit(Event{Kind: ConnectionError, Err: errors.New("reset")})
	loop.Submit(Event{Kind: ResponseReceived, Payload: []byte("2")})

	events := c.waitFor(t, 3)
	if events[0].Kind != ResponseReceived || string(events[0].Payload) != "1" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Kind != ConnectionError {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	if string(events[2].Payload) != "2" {
		t.Fatalf("unexpected third event %+v", events[2])
	}
}

func TestLoopScheduleReplacesPendingTimer(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	loop := NewLoop(Config{Clock: clk})
	c := newCollector()
	startLoop(t, loop, c)

	loop.Schedule(time.Second)
	loop.Schedule(3 * time.Second)
	clk.Advance(2 * time.Second)
	if got := loop.Pending(); got != 0 {
		t.Fatalf("replaced timer must not fire, pending=%d", got)
	}
	clk.Advance(time.Second)
	events := c.waitFor(t, 1)
	if events[0].Kind != TimerFired {
		t.Fatalf("expected timer event, got %s", events[0].Kind)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending clock timers, got %d", clk.Pending())
	}
}

func TestLoopCancelAndCloseDiscard(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	loop := NewLoop(Config{Clock: clk})
	loop.Schedule(time.Second)
	loop.Cancel()
	clk.Advance(time.Second)
	if loop.Pending() != 0 {
		t.Fatalf("cancelled timer fired")
	}

	loop.Submit(Event{Kind: TimerFired})
	loop.Close()
	loop.Close()
	if loop.Submit(Event{Kind: TimerFired}) {
		t.Fatal("submit after close must be rejected")
	}
	if loop.Pending() != 0 {
		t.Fatalf("close must drop queued events, pending=%d", loop.Pending())
	}
	if err := loop.Run(context.Background(), HandlerFunc(func(Event) {
		t.Error("closed loop delivered an event")
	})); err != nil {
		t.Fatalf("run on closed loop: %v", err)
	}
}

func TestLoopRunStopsOnContext(t *testing.T) {
	loop := NewLoop(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, HandlerFunc(func(Event) {})) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	select {
	case <-loop.Done():
	default:
		t.Fatal("loop not closed after context cancel")
	}
}
