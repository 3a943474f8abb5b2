package state

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type machineMetrics struct {
	transitions metric.Int64Counter
}

// The status gauge lives with the session owner, which outlives the machine.
func newMachineMetrics(logger pslog.Logger) *machineMetrics {
	meter := otel.Meter("pkt.systems/hyperspace/state")
	m := &machineMetrics{}
	var err error
	m.transitions, err = meter.Int64Counter(
		"hyperspace.session.transition",
		metric.WithDescription("Session status transitions"),
	)
	if err != nil {
		logger.Warn("telemetry.metric.init_failed", "name", "hyperspace.session.transition", "error", err)
	}
	return m
}

func (m *machineMetrics) recordTransition(ctx context.Context, tr Transition) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hyperspace.session.from", tr.From.String()),
		attribute.String("hyperspace.session.to", tr.To.String()),
	))
}
