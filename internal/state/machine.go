package state

import (
	"context"

	"pkt.systems/hyperspace/internal/lease"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

// Status is the session posture observed by the client.
type Status int

const (
	// Connected means the lease is current.
	Connected Status = iota
	// Jeopardy means the lease lapsed and the grace period is running.
	Jeopardy
	// Expired means the grace period lapsed. Terminal.
	Expired
	// Closed means the application shut the session down. Terminal.
	Closed
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Jeopardy:
		return "jeopardy"
	case Expired:
		return "expired"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == Expired || s == Closed
}

// Transition records one status change.
type Transition struct {
	From   Status
	To     Status
	Reason string
	// NewSession is set on recovery when the master assigned a new session id.
	NewSession bool
}

// Machine holds the session status and applies the transition rules.
// It is not safe for concurrent use; the keepalive driver serialises access
// under its session lock.
type Machine struct {
	status  Status
	logger  pslog.Logger
	metrics *machineMetrics
}

// NewMachine returns a machine in the Connected state.
func NewMachine(logger pslog.Logger) *Machine {
	m := &Machine{
		status: Connected,
		logger: svcfields.WithSubsystem(logger, "session.state"),
	}
	m.metrics = newMachineMetrics(m.logger)
	return m
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.status
}

// Observe applies the clock classification. A Connected session that is
// already past its expire deadline passes through Jeopardy so observers see
// both notifications in order.
func (m *Machine) Observe(h lease.Health) []Transition {
	if m.status.Terminal() {
		return nil
	}
	var out []Transition
	if h >= lease.InJeopardy && m.status == Connected {
		out = append(out, m.move(Jeopardy, "lease lapsed", false))
	}
	if h == lease.Expired && m.status == Jeopardy {
		out = append(out, m.move(Expired, "grace period lapsed", false))
	}
	return out
}

// Renew records a renewing response that arrived before the expire
// deadline. It returns the recovery transition when the session was in
// Jeopardy.
func (m *Machine) Renew(newSession bool) (Transition, bool) {
	if m.status != Jeopardy {
		return Transition{}, false
	}
	reason := "lease renewed"
	if newSession {
		reason = "new session assigned"
	}
	return m.move(Connected, reason, newSession), true
}

// Close moves a live session to Closed.
func (m *Machine) Close() (Transition, bool) {
	if m.status.Terminal() {
		return Transition{}, false
	}
	return m.move(Closed, "closed by application", false), true
}

func (m *Machine) move(next Status, reason string, newSession bool) Transition {
	tr := Transition{From: m.status, To: next, Reason: reason, NewSession: newSession}
	m.status = next
	m.logTransition(tr)
	m.metrics.recordTransition(context.Background(), tr)
	return tr
}

func (m *Machine) logTransition(tr Transition) {
	switch tr.To {
	case Jeopardy:
		m.logger.Warn("session.state.jeopardy", "previous_state", tr.From.String(), "reason", tr.Reason)
	case Expired:
		m.logger.Error("session.state.expired", "previous_state", tr.From.String(), "reason", tr.Reason)
	case Connected:
		m.logger.Info("session.state.recovered", "previous_state", tr.From.String(), "reason", tr.Reason, "new_session", tr.NewSession)
	case Closed:
		m.logger.Info("session.state.closed", "previous_state", tr.From.String())
	}
}
