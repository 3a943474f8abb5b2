package hyperspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/hyperspace/api"
	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/hyperspace/internal/dispatch"
	"pkt.systems/hyperspace/internal/failover"
	"pkt.systems/hyperspace/internal/handles"
	"pkt.systems/hyperspace/internal/keepalive"
	"pkt.systems/hyperspace/internal/state"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/hyperspace/internal/transport"
	"pkt.systems/hyperspace/internal/version"
	"pkt.systems/pslog"
)

// Status is the session-wide state.
type Status = state.Status

const (
	StatusConnected = state.Connected
	StatusJeopardy  = state.Jeopardy
	StatusExpired   = state.Expired
	StatusClosed    = state.Closed
)

type (
	// SessionCallback observes session transitions.
	SessionCallback = state.SessionCallback
	// SessionCallbackFuncs adapts functions to SessionCallback.
	SessionCallbackFuncs = state.CallbackFuncs
	// HandleCallback receives events for one handle.
	HandleCallback = handles.Callback
	// HandleCallbackFuncs adapts functions to HandleCallback.
	HandleCallbackFuncs = handles.CallbackFuncs
	// HandleEvent is a server-pushed handle notification.
	HandleEvent = api.HandleEvent
	// Info is a point-in-time copy of the session data model.
	Info = keepalive.Snapshot
	// Resolver supplies replacement masters on connection errors.
	Resolver = keepalive.Resolver
	// APIError describes a non-2xx reply from a master.
	APIError = transport.APIError
	// DuplicateHandleError is the panic value of a duplicate registration.
	DuplicateHandleError = handles.DuplicateHandleError
)

var (
	// ErrSessionClosed is returned once the session is closed or expired.
	ErrSessionClosed = keepalive.ErrSessionClosed
	// ErrOpenFailed is returned when no master accepted the session.
	ErrOpenFailed = errors.New("hyperspace: open session failed")
)

// Option customises Open.
type Option func(*options)

type options struct {
	logger     pslog.Logger
	clock      clock.Clock
	httpClient *http.Client
	resolver   Resolver
}

// WithLogger sets the session logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the session clock. Tests use clock.Manual.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithHTTPClient overrides the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithResolver replaces the endpoint-rotation failover resolver.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// Session is an open client session. All methods are safe for concurrent use.
type Session struct {
	cfg       Config
	logger    pslog.Logger
	driver    *keepalive.Driver
	loop      *dispatch.Loop
	transport *transport.HTTP

	runDone     chan struct{}
	cancel      context.CancelFunc
	closeOnce   sync.Once
	dispatching atomic.Bool
}

// Open establishes a session against the configured masters (or attaches to
// cfg.SessionID) and starts the keepalive driver. The callback observes
// jeopardy, recovery and expiry.
func Open(ctx context.Context, cfg Config, callback SessionCallback, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := svcfields.Ensure(o.logger)
	clk := o.clock
	if clk == nil {
		clk = clock.Real{}
	}
	resolver := o.resolver
	if resolver == nil {
		r, err := failover.New(failover.Config{
			Endpoints: cfg.Masters,
			Cooldown:  cfg.FailoverCooldown,
			Shuffle:   cfg.ShuffleMasters,
			Insecure:  cfg.Insecure,
			Clock:     clk,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		resolver = r
	}
	master := cfg.Masters[0]
	if r, ok := resolver.(*failover.Resolver); ok {
		master = r.Initial()
	}

	loop := dispatch.NewLoop(dispatch.Config{Clock: clk, Logger: logger})
	tr := transport.New(transport.Config{
		HTTPClient:     o.httpClient,
		RequestTimeout: cfg.RequestTimeout,
		Sink:           loop,
		UserAgent:      version.UserAgent(),
		Logger:         logger,
	})
	fail := func(err error) (*Session, error) {
		loop.Close()
		tr.Close()
		return nil, err
	}

	if cfg.SessionID == 0 {
		resp, addr, err := openSession(ctx, tr, resolver, master, cfg, logger)
		if err != nil {
			return fail(err)
		}
		cfg.SessionID = resp.SessionID
		master = addr
		if resp.Master != "" {
			if redirect, err := failover.NormalizeEndpoint(resp.Master, cfg.Insecure); err != nil {
				logger.Warn("session.open.redirect_invalid", "master", resp.Master, "error", err)
			} else {
				master = redirect
			}
		}
		if granted := time.Duration(resp.LeaseIntervalMillis) * time.Millisecond; granted > 0 && granted != cfg.LeaseInterval {
			logger.Info("session.open.lease_adjusted", "requested", cfg.LeaseInterval, "granted", granted)
			cfg.LeaseInterval = granted
			if cfg.KeepaliveInterval >= granted {
				cfg.KeepaliveInterval = 0
			}
		}
	}

	driver, err := keepalive.New(keepalive.Config{
		SessionID:         cfg.SessionID,
		LeaseInterval:     cfg.LeaseInterval,
		KeepaliveInterval: cfg.KeepaliveInterval,
		GracePeriod:       cfg.GracePeriod,
		Master:            master,
		Sender:            tr,
		Scheduler:         loop,
		Resolver:          resolver,
		Callback:          callback,
		Clock:             clk,
		Logger:            logger,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		logger:    svcfields.WithSession(svcfields.WithSubsystem(logger, "session"), cfg.SessionID),
		driver:    driver,
		loop:      loop,
		transport: tr,
		runDone:   make(chan struct{}),
		cancel:    cancel,
	}
	handler := dispatch.HandlerFunc(func(ev dispatch.Event) {
		s.dispatching.Store(true)
		defer s.dispatching.Store(false)
		driver.Handle(ev)
	})
	go func() {
		defer close(s.runDone)
		if err := loop.Run(runCtx, handler); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("session.loop.stopped", "error", err)
		}
	}()
	driver.Start()
	s.logger.Info("session.opened", "master", master, "lease_interval", cfg.LeaseInterval, "grace_period", cfg.GracePeriod)
	return s, nil
}

// openSession tries each master in rotation order until one grants a session.
func openSession(ctx context.Context, tr *transport.HTTP, resolver Resolver, master string, cfg Config, logger pslog.Logger) (api.OpenSessionResponse, string, error) {
	req := api.OpenSessionRequest{
		ClientID:            cfg.ClientID,
		LeaseIntervalMillis: cfg.LeaseInterval.Milliseconds(),
	}
	var errs []error
	addr := master
	for attempt := 0; attempt < len(cfg.Masters); attempt++ {
		resp, err := tr.Open(ctx, addr, req)
		if err == nil {
			if hr, ok := resolver.(keepalive.HealthReporter); ok {
				hr.MarkHealthy(addr)
			}
			return resp, addr, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		logger.Warn("session.open.failed", "master", addr, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
		next, ok := resolver.ResolveNewMaster(addr)
		if !ok {
			break
		}
		addr = next
	}
	return api.OpenSessionResponse{}, "", fmt.Errorf("%w: %w", ErrOpenFailed, errors.Join(errs...))
}

// ID returns the current session id. It changes when a master assigns a new
// session during recovery.
func (s *Session) ID() uint64 {
	return s.driver.Snapshot().SessionID
}

// Status returns the current session status.
func (s *Session) Status() Status {
	return s.driver.Status()
}

// Info returns a copy of the session data model.
func (s *Session) Info() Info {
	return s.driver.Snapshot()
}

// RegisterHandle routes events for handle id to cb. Registering an id twice
// panics with *DuplicateHandleError.
func (s *Session) RegisterHandle(id uint64, cb HandleCallback) error {
	return s.driver.RegisterHandle(id, cb)
}

// UnregisterHandle stops routing events to handle id.
func (s *Session) UnregisterHandle(id uint64) {
	s.driver.UnregisterHandle(id)
}

// Wait blocks until the session reaches one of statuses or ctx is done. It
// returns the status reached.
func (s *Session) Wait(ctx context.Context, statuses ...Status) (Status, error) {
	for {
		current, changed := s.driver.Watch()
		for _, want := range statuses {
			if current == want {
				return current, nil
			}
		}
		if current.Terminal() {
			return current, fmt.Errorf("%w: session is %s", ErrSessionClosed, current)
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-changed:
		}
	}
}

// Close stops keepalives and releases the session's goroutines. The master
// lease is left to run out. Close is idempotent. Called from a callback it
// returns without waiting for the dispatch goroutine to exit.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.driver.Close()
		s.loop.Close()
		s.transport.Close()
		s.cancel()
		if !s.dispatching.Load() {
			<-s.runDone
		}
		s.logger.Info("session.closed")
	})
	return nil
}
