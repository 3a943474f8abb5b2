package dispatch

// EventKind enumerates the inputs delivered to the keepalive driver.
type EventKind int

const (
	// TimerFired asks the driver to evaluate deadlines and send a keepalive.
	TimerFired EventKind = iota
	// ResponseReceived carries a keepalive response payload.
	ResponseReceived
	// ConnectionError reports a transport failure towards Addr.
	ConnectionError
)

func (k EventKind) String() string {
	switch k {
	case TimerFired:
		return "timer_fired"
	case ResponseReceived:
		return "response_received"
	case ConnectionError:
		return "connection_error"
	default:
		return "unknown"
	}
}

// Event is one input for the driver's single entry point.
type Event struct {
	Kind EventKind
	// Addr is the master the payload came from or the send was aimed at.
	Addr string
	// Payload is the raw response body for ResponseReceived.
	Payload []byte
	// Err describes the failure for ConnectionError.
	Err error
	// CorrelationID ties a response or error to the keepalive that caused it.
	CorrelationID string
}

// Handler consumes events. The loop calls Handle from a single goroutine.
type Handler interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

// Handle calls f(ev).
func (f HandlerFunc) Handle(ev Event) {
	f(ev)
}
