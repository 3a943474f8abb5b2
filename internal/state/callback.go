package state

// SessionCallback observes session-wide transitions. Exactly one is attached
// to each session.
type SessionCallback interface {
	// Jeopardy is called when the lease lapses.
	Jeopardy()
	// Reconnected is called once per recovery from Jeopardy.
	Reconnected()
	// Safe is called after Reconnected when the recovered session kept its
	// id, meaning handle state survived intact.
	Safe()
	// Expired is called once when the grace period lapses. All handles are
	// invalidated right after it returns.
	Expired()
}

// CallbackFuncs adapts plain functions to SessionCallback. Nil fields are ignored.
type CallbackFuncs struct {
	OnJeopardy    func()
	OnReconnected func()
	OnSafe        func()
	OnExpired     func()
}

func (f CallbackFuncs) Jeopardy() {
	if f.OnJeopardy != nil {
		f.OnJeopardy()
	}
}

func (f CallbackFuncs) Reconnected() {
	if f.OnReconnected != nil {
		f.OnReconnected()
	}
}

func (f CallbackFuncs) Safe() {
	if f.OnSafe != nil {
		f.OnSafe()
	}
}

func (f CallbackFuncs) Expired() {
	if f.OnExpired != nil {
		f.OnExpired()
	}
}

// Notify invokes the callbacks matching tr. Closed has no callback.
func Notify(cb SessionCallback, tr Transition) {
	if cb == nil {
		return
	}
	switch tr.To {
	case Jeopardy:
		cb.Jeopardy()
	case Connected:
		cb.Reconnected()
		if !tr.NewSession {
			cb.Safe()
		}
	case Expired:
		cb.Expired()
	}
}
