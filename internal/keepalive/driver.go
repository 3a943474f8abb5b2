// Package keepalive implements the session keepalive driver: it renews the
// session lease on a timer, classifies session health, follows master
// redirects and failovers, and dispatches piggybacked handle events.
//
// All session state is guarded by one mutex, so timer, response and
// connection-error events are never processed concurrently. Application
// callbacks run after that mutex is released, in order, under a separate
// delivery mutex; a callback may therefore call Close or the registry.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/hyperspace/api"
	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/hyperspace/internal/correlation"
	"pkt.systems/hyperspace/internal/dispatch"
	"pkt.systems/hyperspace/internal/failover"
	"pkt.systems/hyperspace/internal/handles"
	"pkt.systems/hyperspace/internal/lease"
	"pkt.systems/hyperspace/internal/state"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

var (
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("keepalive: invalid config")
	// ErrSessionClosed is returned by registration once the session is terminal.
	ErrSessionClosed = errors.New("keepalive: session closed")
)

// Sender hands a keepalive payload to the connection handler. It must not
// block; failures surface later as ConnectionError events or as a missing
// response.
type Sender interface {
	Send(ctx context.Context, addr string, payload []byte)
}

// Scheduler delivers a TimerFired event after the requested delay. Each
// Schedule call replaces the previous timer.
type Scheduler interface {
	Schedule(d time.Duration)
	Cancel()
}

// Resolver supplies a replacement master after current became unreachable.
type Resolver interface {
	ResolveNewMaster(current string) (string, bool)
}

// HealthReporter is implemented by resolvers that track failed masters. The
// driver reports the master of every decoded response.
type HealthReporter interface {
	MarkHealthy(addr string)
}

// Config configures a Driver.
type Config struct {
	SessionID         uint64
	LeaseInterval     time.Duration
	KeepaliveInterval time.Duration
	GracePeriod       time.Duration
	Master            string

	Sender    Sender
	Scheduler Scheduler
	Resolver  Resolver
	Codec     api.Codec
	Callback  state.SessionCallback
	Registry  *handles.Registry
	Clock     clock.Clock
	Logger    pslog.Logger
}

// Snapshot is a point-in-time copy of the session data model.
type Snapshot struct {
	SessionID         uint64
	Status            state.Status
	LeaseInterval     time.Duration
	KeepaliveInterval time.Duration
	GracePeriod       time.Duration
	LastRenewal       time.Time
	JeopardyDeadline  time.Time
	ExpireDeadline    time.Time
	NextKeepalive     time.Time
	Master            string
	LastKnownEvent    uint64
	Handles           int
}

// Driver owns one session. Construct with New, then call Start.
type Driver struct {
	leaseInterval     time.Duration
	keepaliveInterval time.Duration
	gracePeriod       time.Duration

	sender    Sender
	scheduler Scheduler
	resolver  Resolver
	codec     api.Codec
	callback  state.SessionCallback
	registry  *handles.Registry
	clock     clock.Clock
	logger    pslog.Logger
	metrics   *driverMetrics

	deliverMu sync.Mutex

	mu        sync.Mutex
	sessionID uint64
	master    string
	lastKnown uint64
	deadlines lease.Deadlines
	nextSend  time.Time
	machine   *state.Machine
	started   bool
	changed   chan struct{}
}

// New validates cfg and returns a driver whose lease starts now.
func New(cfg Config) (*Driver, error) {
	if cfg.LeaseInterval <= 0 {
		return nil, fmt.Errorf("%w: lease interval must be positive", ErrInvalidConfig)
	}
	if cfg.GracePeriod <= 0 {
		return nil, fmt.Errorf("%w: grace period must be positive", ErrInvalidConfig)
	}
	interval := cfg.KeepaliveInterval
	if interval == 0 {
		interval = DefaultKeepaliveInterval(cfg.LeaseInterval)
	}
	if interval <= 0 || interval >= cfg.LeaseInterval {
		return nil, fmt.Errorf("%w: keepalive interval %s must be positive and below lease interval %s", ErrInvalidConfig, interval, cfg.LeaseInterval)
	}
	if cfg.Master == "" {
		return nil, fmt.Errorf("%w: master address required", ErrInvalidConfig)
	}
	if cfg.Sender == nil || cfg.Scheduler == nil {
		return nil, fmt.Errorf("%w: sender and scheduler required", ErrInvalidConfig)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	codec := cfg.Codec
	if codec == nil {
		codec = api.JSONCodec{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = handles.NewRegistry()
	}
	logger := svcfields.WithSubsystem(cfg.Logger, "session.keepalive.driver")
	now := clk.Now()
	d := &Driver{
		leaseInterval:     cfg.LeaseInterval,
		keepaliveInterval: interval,
		gracePeriod:       cfg.GracePeriod,
		sender:            cfg.Sender,
		scheduler:         cfg.Scheduler,
		resolver:          cfg.Resolver,
		codec:             codec,
		callback:          cfg.Callback,
		registry:          registry,
		clock:             clk,
		logger:            logger,
		sessionID:         cfg.SessionID,
		master:            cfg.Master,
		deadlines:         lease.Compute(now, cfg.LeaseInterval, cfg.GracePeriod),
		nextSend:          now.Add(interval),
		machine:           state.NewMachine(cfg.Logger),
		changed:           make(chan struct{}),
	}
	d.metrics = newDriverMetrics(logger)
	d.metrics.observe(int64(state.Connected), cfg.SessionID)
	return d, nil
}

// DefaultKeepaliveInterval returns a third of the lease interval, leaving
// room for at least one retry before jeopardy.
func DefaultKeepaliveInterval(leaseInterval time.Duration) time.Duration {
	return leaseInterval / 3
}

// Start arms the first timer. Calling it more than once has no effect.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.machine.Status().Terminal() {
		return
	}
	d.started = true
	d.logger.Info("session.keepalive.start",
		"session_id", d.sessionID,
		"master", d.master,
		"lease_interval", d.leaseInterval,
		"keepalive_interval", d.keepaliveInterval,
		"grace_period", d.gracePeriod,
	)
	d.scheduleLocked(d.clock.Now())
}

// Handle is the single entry point used by the dispatch loop.
func (d *Driver) Handle(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.TimerFired:
		d.OnTimerFired()
	case dispatch.ResponseReceived:
		ctx := correlation.Set(context.Background(), ev.CorrelationID)
		d.OnResponseReceived(ctx, ev.Payload)
	case dispatch.ConnectionError:
		d.OnConnectionError(ev.Addr, ev.Err)
	default:
		d.logger.Warn("session.keepalive.unknown_event", "kind", ev.Kind.String())
	}
}

// OnTimerFired evaluates the deadlines, sends a keepalive when one is due and
// arms the next timer. An expired session schedules nothing further.
func (d *Driver) OnTimerFired() {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.machine.Status().Terminal() {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	transitions := d.observeLocked(now)
	var (
		out     *outbound
		encErr  error
		expired = d.machine.Status().Terminal()
	)
	if !expired {
		if !now.Before(d.nextSend) {
			out, encErr = d.buildKeepaliveLocked()
			d.nextSend = now.Add(d.keepaliveInterval)
		}
		d.scheduleLocked(now)
	}
	d.mu.Unlock()

	if encErr != nil {
		d.logger.Error("session.keepalive.encode_failed", "error", encErr)
	}
	if out != nil {
		d.send(out)
	}
	d.deliverTransitions(transitions)
}

// OnResponseReceived applies a keepalive response: it renews the lease,
// follows redirects, recovers from jeopardy and dispatches fresh handle
// events. Malformed payloads are logged and otherwise ignored.
func (d *Driver) OnResponseReceived(ctx context.Context, payload []byte) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.machine.Status().Terminal() {
		d.mu.Unlock()
		d.logger.Trace("session.keepalive.response_discarded", "cid", correlation.ID(ctx))
		return
	}
	now := d.clock.Now()
	transitions := d.observeLocked(now)
	if d.machine.Status().Terminal() {
		d.mu.Unlock()
		d.logger.Debug("session.keepalive.response_too_late", "cid", correlation.ID(ctx))
		d.deliverTransitions(transitions)
		return
	}
	resp, err := d.codec.DecodeKeepalive(payload)
	if err != nil {
		d.mu.Unlock()
		d.metrics.recordDecodeError(ctx)
		d.logger.Warn("session.keepalive.decode_failed", "cid", correlation.ID(ctx), "bytes", len(payload), "error", err)
		d.deliverTransitions(transitions)
		return
	}

	newSession := resp.SessionID != 0 && resp.SessionID != d.sessionID
	if newSession {
		d.logger.Warn("session.keepalive.new_session",
			"previous_session_id", d.sessionID,
			"session_id", resp.SessionID,
			"discarded_event_seq", d.lastKnown,
		)
		d.sessionID = resp.SessionID
		d.lastKnown = 0
		d.metrics.observe(int64(d.machine.Status()), d.sessionID)
	}
	if resp.Master != "" {
		if redirect, err := failover.NormalizeEndpoint(resp.Master, strings.HasPrefix(d.master, "http://")); err != nil {
			d.logger.Warn("session.keepalive.redirect_invalid", "master", resp.Master, "error", err)
		} else if redirect != d.master {
			d.logger.Info("session.keepalive.redirect", "from", d.master, "to", redirect)
			d.master = redirect
		}
	}
	d.deadlines = lease.Compute(now, d.leaseInterval, d.gracePeriod)
	if tr, ok := d.machine.Renew(newSession); ok {
		transitions = append(transitions, tr)
		d.signalLocked()
	}

	fresh := make([]api.HandleEvent, 0, len(resp.Events))
	for _, ev := range resp.Events {
		if ev.Seq <= d.lastKnown {
			d.metrics.recordEvent(ctx, outcomeDuplicate)
			d.logger.Trace("session.event.dropped_duplicate", "handle_id", ev.HandleID, "event_seq", ev.Seq, "last_known_event", d.lastKnown)
			continue
		}
		d.lastKnown = ev.Seq
		fresh = append(fresh, ev)
	}
	sessionID := d.sessionID
	master := d.master
	d.mu.Unlock()

	if hr, ok := d.resolver.(HealthReporter); ok {
		hr.MarkHealthy(master)
	}
	d.metrics.recordResponse(ctx)
	d.logger.Trace("session.keepalive.renewed", "session_id", sessionID, "cid", correlation.ID(ctx), "events", len(fresh))
	d.deliverTransitions(transitions)
	d.deliverEvents(ctx, fresh)
}

// OnConnectionError asks the resolver for a replacement master. It never
// changes the session status; the lease deadlines decide the outcome. It is
// serialized with timer and response handling.
func (d *Driver) OnConnectionError(addr string, cause error) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.machine.Status().Terminal() {
		d.mu.Unlock()
		return
	}
	current := d.master
	d.mu.Unlock()

	d.logger.Warn("session.keepalive.connection_error", "master", current, "addr", addr, "error", cause)
	if d.resolver == nil {
		return
	}
	if addr != "" && addr != current {
		// Error concerns a master we already moved away from.
		return
	}
	next, ok := d.resolver.ResolveNewMaster(current)
	if !ok || next == "" || next == current {
		d.logger.Debug("session.keepalive.failover_unavailable", "master", current)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.machine.Status().Terminal() || d.master != current {
		return
	}
	d.master = next
	d.logger.Info("session.keepalive.failover", "from", current, "to", next)
}

// Close moves the session to Closed, cancels the timer and turns every
// entry point into a no-op. It is idempotent.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.machine.Close(); !ok {
		return
	}
	d.scheduler.Cancel()
	d.metrics.unregister()
	d.signalLocked()
}

// RegisterHandle attaches cb to handle id. A duplicate id panics; a terminal
// session, or one whose expiry sweep has started, returns ErrSessionClosed.
func (d *Driver) RegisterHandle(id uint64, cb handles.Callback) error {
	if d.Status().Terminal() {
		return ErrSessionClosed
	}
	if err := d.registry.Register(id, cb); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return nil
}

// UnregisterHandle detaches handle id. Unknown ids are ignored.
func (d *Driver) UnregisterHandle(id uint64) {
	d.registry.Unregister(id)
}

// Registry exposes the handle registry.
func (d *Driver) Registry() *handles.Registry {
	return d.registry
}

// Status returns the current session status.
func (d *Driver) Status() state.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.Status()
}

// Watch returns the current status and a channel closed on the next transition.
func (d *Driver) Watch() (state.Status, <-chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.Status(), d.changed
}

// Snapshot copies the session data model.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		SessionID:         d.sessionID,
		Status:            d.machine.Status(),
		LeaseInterval:     d.leaseInterval,
		KeepaliveInterval: d.keepaliveInterval,
		GracePeriod:       d.gracePeriod,
		LastRenewal:       d.deadlines.Renewed,
		JeopardyDeadline:  d.deadlines.Jeopardy,
		ExpireDeadline:    d.deadlines.Expire,
		NextKeepalive:     d.nextSend,
		Master:            d.master,
		LastKnownEvent:    d.lastKnown,
		Handles:           d.registry.Len(),
	}
}

type outbound struct {
	ctx     context.Context
	addr    string
	payload []byte
	req     api.KeepaliveRequest
}

func (d *Driver) buildKeepaliveLocked() (*outbound, error) {
	req := api.KeepaliveRequest{SessionID: d.sessionID, LastKnownEvent: d.lastKnown}
	payload, err := d.codec.EncodeKeepalive(req)
	if err != nil {
		return nil, err
	}
	ctx, _ := correlation.Ensure(context.Background())
	return &outbound{ctx: ctx, addr: d.master, payload: payload, req: req}, nil
}

func (d *Driver) send(out *outbound) {
	d.logger.Trace("session.keepalive.sent",
		"session_id", out.req.SessionID,
		"last_known_event", out.req.LastKnownEvent,
		"master", out.addr,
		"cid", correlation.ID(out.ctx),
	)
	d.metrics.recordSent(out.ctx)
	d.sender.Send(out.ctx, out.addr, out.payload)
}

func (d *Driver) observeLocked(now time.Time) []state.Transition {
	transitions := d.machine.Observe(d.deadlines.Classify(now))
	if len(transitions) == 0 {
		return nil
	}
	d.signalLocked()
	if d.machine.Status() == state.Expired {
		d.scheduler.Cancel()
		d.metrics.unregister()
	}
	return transitions
}

// scheduleLocked arms the timer for the earlier of the next keepalive and
// the next lease deadline, so transitions happen exactly on the deadline.
func (d *Driver) scheduleLocked(now time.Time) {
	next := d.nextSend
	if deadline, ok := d.deadlines.Next(now); ok && deadline.Before(next) {
		next = deadline
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	d.scheduler.Schedule(delay)
}

func (d *Driver) signalLocked() {
	d.metrics.observe(int64(d.machine.Status()), d.sessionID)
	close(d.changed)
	d.changed = make(chan struct{})
}

func (d *Driver) deliverTransitions(transitions []state.Transition) {
	for _, tr := range transitions {
		state.Notify(d.callback, tr)
		if tr.To == state.Expired {
			n := d.registry.InvalidateAll()
			d.logger.Warn("session.handles.invalidated", "handles", n)
		}
	}
}

func (d *Driver) deliverEvents(ctx context.Context, events []api.HandleEvent) {
	for _, ev := range events {
		cb, ok := d.registry.Lookup(ev.HandleID)
		if !ok {
			d.metrics.recordEvent(ctx, outcomeUnknownHandle)
			d.logger.Debug("session.event.dropped_unknown_handle", "handle_id", ev.HandleID, "event_seq", ev.Seq, "kind", ev.Kind.String())
			continue
		}
		cb.HandleEvent(ev)
		d.metrics.recordEvent(ctx, outcomeDelivered)
		d.logger.Trace("session.event.delivered", "handle_id", ev.HandleID, "event_seq", ev.Seq, "kind", ev.Kind.String())
	}
}
