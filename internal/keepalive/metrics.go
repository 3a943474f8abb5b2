package keepalive

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

const (
	outcomeDelivered     = "delivered"
	outcomeDuplicate     = "duplicate"
	outcomeUnknownHandle = "unknown_handle"
)

type driverMetrics struct {
	sent         metric.Int64Counter
	responses    metric.Int64Counter
	decodeErrors metric.Int64Counter
	events       metric.Int64Counter
	status       metric.Int64ObservableGauge

	// Observed by the gauge callback without taking the driver lock.
	currentStatus    atomic.Int64
	currentSessionID atomic.Uint64

	once         sync.Once
	registration metric.Registration
	logger       pslog.Logger
}

func newDriverMetrics(logger pslog.Logger) *driverMetrics {
	meter := otel.Meter("pkt.systems/hyperspace/keepalive")
	m := &driverMetrics{logger: logger}
	var err error

	m.sent, err = meter.Int64Counter(
		"hyperspace.keepalive.sent",
		metric.WithDescription("Keepalive requests handed to the transport"),
	)
	logMetricInitError(logger, "hyperspace.keepalive.sent", err)

	m.responses, err = meter.Int64Counter(
		"hyperspace.keepalive.response",
		metric.WithDescription("Keepalive responses that renewed the lease"),
	)
	logMetricInitError(logger, "hyperspace.keepalive.response", err)

	m.decodeErrors, err = meter.Int64Counter(
		"hyperspace.keepalive.decode_error",
		metric.WithDescription("Keepalive responses that could not be decoded"),
	)
	logMetricInitError(logger, "hyperspace.keepalive.decode_error", err)

	m.events, err = meter.Int64Counter(
		"hyperspace.handle.event",
		metric.WithDescription("Handle events by delivery outcome"),
	)
	logMetricInitError(logger, "hyperspace.handle.event", err)

	m.status, err = meter.Int64ObservableGauge(
		"hyperspace.session.status",
		metric.WithDescription("Current session status (0 connected, 1 jeopardy, 2 expired, 3 closed)"),
	)
	logMetricInitError(logger, "hyperspace.session.status", err)

	if m.status != nil {
		reg, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.status, m.currentStatus.Load(), metric.WithAttributes(
				attribute.Int64("hyperspace.session.id", int64(m.currentSessionID.Load())),
			))
			return nil
		}, m.status)
		if err != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "hyperspace.session.status", "error", err)
		} else {
			m.registration = reg
		}
	}
	return m
}

func (m *driverMetrics) recordSent(ctx context.Context) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.Add(ctx, 1)
}

func (m *driverMetrics) recordResponse(ctx context.Context) {
	if m == nil || m.responses == nil {
		return
	}
	m.responses.Add(ctx, 1)
}

func (m *driverMetrics) recordDecodeError(ctx context.Context) {
	if m == nil || m.decodeErrors == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1)
}

func (m *driverMetrics) recordEvent(ctx context.Context, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("hyperspace.handle.outcome", outcome)))
}

func (m *driverMetrics) observe(status int64, sessionID uint64) {
	if m == nil {
		return
	}
	m.currentStatus.Store(status)
	m.currentSessionID.Store(sessionID)
}

// unregister drops the status gauge callback once the session is terminal.
func (m *driverMetrics) unregister() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if m.registration == nil {
			return
		}
		if err := m.registration.Unregister(); err != nil {
			m.logger.Debug("telemetry.metric.unregister_failed", "name", "hyperspace.session.status", "error", err)
		}
	})
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
