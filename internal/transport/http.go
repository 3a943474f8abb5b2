// Package transport carries session traffic to a master over HTTP. Keepalive
// sends are fire-and-forget: each one runs on its own goroutine and reports
// back to the session's event sink as ResponseReceived or ConnectionError.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/hyperspace/api"
	"pkt.systems/hyperspace/internal/correlation"
	"pkt.systems/hyperspace/internal/dispatch"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

const (
	// OpenPath establishes a session.
	OpenPath = "/v1/session/open"
	// KeepalivePath renews a session lease.
	KeepalivePath = "/v1/session/keepalive"
	// DefaultRequestTimeout bounds a single request.
	DefaultRequestTimeout = 2 * time.Second
	// MaxResponseBytes caps the body read from a master.
	MaxResponseBytes = 4 << 20

	contentTypeJSON = "application/json"
)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("transport: closed")

// Sink receives the outcome of fire-and-forget sends.
type Sink interface {
	Submit(ev dispatch.Event) bool
}

// Config configures an HTTP transport.
type Config struct {
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	// RequestTimeout bounds each keepalive and open request.
	RequestTimeout time.Duration
	// Sink receives keepalive outcomes. Required for Send.
	Sink      Sink
	UserAgent string
	Logger    pslog.Logger
}

// HTTP is the connection handler used by a session.
type HTTP struct {
	client    *http.Client
	timeout   time.Duration
	sink      Sink
	userAgent string
	logger    pslog.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns an HTTP transport.
func New(cfg Config) *HTTP {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "hyperspace-client"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTP{
		client:    client,
		timeout:   timeout,
		sink:      cfg.Sink,
		userAgent: userAgent,
		logger:    svcfields.WithSubsystem(cfg.Logger, "session.transport.http"),
		tracer:    otel.Tracer("pkt.systems/hyperspace/transport"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Send posts a keepalive to addr without waiting for the reply. The result
// is submitted to the sink. Sends after Close are dropped.
func (h *HTTP) Send(ctx context.Context, addr string, payload []byte) {
	cid := correlation.ID(ctx)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.logger.Debug("session.transport.send_after_close", "addr", addr, "cid", cid)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		reqCtx, cancel := context.WithTimeout(correlation.Set(h.ctx, cid), h.timeout)
		defer cancel()
		body, err := h.post(reqCtx, "hyperspace.keepalive.send", addr, KeepalivePath, payload)
		if h.ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.Debug("session.transport.keepalive_failed", "addr", addr, "cid", cid, "error", err)
			h.submit(dispatch.Event{Kind: dispatch.ConnectionError, Addr: addr, Err: err, CorrelationID: cid})
			return
		}
		h.submit(dispatch.Event{Kind: dispatch.ResponseReceived, Addr: addr, Payload: body, CorrelationID: cid})
	}()
}

// Open establishes a session on addr and waits for the reply.
func (h *HTTP) Open(ctx context.Context, addr string, req api.OpenSessionRequest) (api.OpenSessionResponse, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return api.OpenSessionResponse{}, ErrClosed
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return api.OpenSessionResponse{}, fmt.Errorf("transport: encode open request: %w", err)
	}
	ctx, _ = correlation.Ensure(ctx)
	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	body, err := h.post(reqCtx, "hyperspace.session.open", addr, OpenPath, payload)
	if err != nil {
		return api.OpenSessionResponse{}, err
	}
	var resp api.OpenSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.OpenSessionResponse{}, fmt.Errorf("transport: decode open response: %w", err)
	}
	if resp.SessionID == 0 {
		return api.OpenSessionResponse{}, fmt.Errorf("transport: open response from %s carries no session id", addr)
	}
	h.logger.Info("session.transport.opened", "addr", addr, "session_id", resp.SessionID, "cid", correlation.ID(ctx))
	return resp, nil
}

// Close cancels in-flight sends and waits for their goroutines to exit.
// Outcomes of cancelled sends are not submitted.
func (h *HTTP) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()
}

func (h *HTTP) submit(ev dispatch.Event) {
	if h.sink == nil {
		return
	}
	if !h.sink.Submit(ev) {
		h.logger.Trace("session.transport.sink_closed", "kind", ev.Kind.String(), "cid", ev.CorrelationID)
	}
}

func (h *HTTP) post(ctx context.Context, spanName, addr, path string, payload []byte) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("hyperspace.master", addr))
	if cid := correlation.ID(ctx); cid != "" {
		span.SetAttributes(attribute.String("hyperspace.correlation_id", cid))
	}

	fail := func(err error) ([]byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request_failed")
		return nil, err
	}
	endpoint := strings.TrimRight(addr, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Errorf("transport: build request: %w", err))
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", h.userAgent)
	correlation.Inject(ctx, req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return fail(fmt.Errorf("transport: read response: %w", err))
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(decodeError(resp, data))
	}
	span.SetStatus(codes.Ok, "")
	return data, nil
}
