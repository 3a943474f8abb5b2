// Package lease implements the session clock: pure lease arithmetic that maps
// the time of the last renewal onto the jeopardy and expire deadlines and
// classifies an instant against them.
//
// Callers must pass instants taken from a monotonic source (see
// internal/clock) so wall-clock steps never move a session between states.
package lease

import (
	"time"
)

// Health classifies an instant against the session deadlines.
type Health int

const (
	// Healthy means the lease has not lapsed.
	Healthy Health = iota
	// InJeopardy means the lease lapsed but the grace period has not.
	InJeopardy
	// Expired means the grace period has lapsed too.
	Expired
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case InJeopardy:
		return "jeopardy"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Deadlines captures the two instants derived from a renewal.
type Deadlines struct {
	Renewed  time.Time
	Jeopardy time.Time
	Expire   time.Time
}

// Compute derives the deadlines for a renewal observed at renewed.
func Compute(renewed time.Time, leaseInterval, gracePeriod time.Duration) Deadlines {
	jeopardy := renewed.Add(leaseInterval)
	return Deadlines{
		Renewed:  renewed,
		Jeopardy: jeopardy,
		Expire:   jeopardy.Add(gracePeriod),
	}
}

// Classify reports the health of the session at now. Deadlines are
// inclusive: reaching a deadline exactly moves to the next state.
func (d Deadlines) Classify(now time.Time) Health {
	switch {
	case !now.Before(d.Expire):
		return Expired
	case !now.Before(d.Jeopardy):
		return InJeopardy
	default:
		return Healthy
	}
}

// Next returns the first deadline strictly after now, or false once both have passed.
func (d Deadlines) Next(now time.Time) (time.Time, bool) {
	switch {
	case now.Before(d.Jeopardy):
		return d.Jeopardy, true
	case now.Before(d.Expire):
		return d.Expire, true
	default:
		return time.Time{}, false
	}
}

// Classify is the functional form of Compute(...).Classify(now).
func Classify(renewed time.Time, leaseInterval, gracePeriod time.Duration, now time.Time) Health {
	return Compute(renewed, leaseInterval, gracePeriod).Classify(now)
}
