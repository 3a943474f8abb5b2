package api

// OpenSessionRequest asks the master to establish a new session.
type OpenSessionRequest struct {
	// ClientID identifies the client process for diagnostics.
	ClientID string `json:"client_id,omitempty"`
	// LeaseIntervalMillis is the lease the client would like; the master may shorten it.
	LeaseIntervalMillis int64 `json:"lease_interval_ms,omitempty"`
}

// OpenSessionResponse acknowledges session establishment.
type OpenSessionResponse struct {
	// SessionID is the server-assigned session identifier.
	SessionID uint64 `json:"session_id"`
	// LeaseIntervalMillis is the lease granted by the master. Zero keeps the requested value.
	LeaseIntervalMillis int64 `json:"lease_interval_ms,omitempty"`
	// Master redirects subsequent traffic to another master when set.
	Master string `json:"master,omitempty"`
}

// KeepaliveRequest renews the session lease and acknowledges delivered events.
type KeepaliveRequest struct {
	// SessionID identifies the session being renewed.
	SessionID uint64 `json:"session_id"`
	// LastKnownEvent is the highest handle event sequence number processed by the client.
	LastKnownEvent uint64 `json:"last_known_event"`
}

// KeepaliveResponse renews the lease and piggybacks pending handle events.
type KeepaliveResponse struct {
	// SessionID is the session the master renewed. A value different from the
	// request means the master assigned a new session.
	SessionID uint64 `json:"session_id"`
	// Master redirects subsequent keepalives when set.
	Master string `json:"master,omitempty"`
	// Events lists handle events in non-decreasing sequence order.
	Events []HandleEvent `json:"events,omitempty"`
}

// HandleEvent is a server-pushed notification for one handle.
type HandleEvent struct {
	// HandleID identifies the handle within the session.
	HandleID uint64 `json:"handle_id"`
	// Seq is the per-session event sequence number.
	Seq uint64 `json:"event_seq"`
	// Kind classifies the event.
	Kind EventKind `json:"kind"`
	// Name carries the attribute or child node name for attribute and child events.
	Name string `json:"name,omitempty"`
	// Payload carries event-specific bytes (notification body, attribute value).
	Payload []byte `json:"payload,omitempty"`
}

// ErrorResponse is returned by the master for non-2xx replies.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
