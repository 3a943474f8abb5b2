package clock

import "time"

// Clock abstracts the time source used for lease arithmetic and timer
// scheduling. Implementations must return instants that carry a monotonic
// reading so deadlines are immune to wall-clock adjustments.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(d time.Duration)
}

// Timer is a cancellable one-shot callback created by AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current local time including its monotonic reading.
// Converting to UTC would strip the monotonic component.
func (Real) Now() time.Time {
	return time.Now()
}

// After mirrors time.After while satisfying the Clock interface.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// AfterFunc mirrors time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sleep blocks for at least the supplied duration.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
