package server

// Close classes label why a session ended. They are recorded with the
// session row and never sent on the wire.
const (
	// Clean lifecycle.
	CloseNormal   = "normal"
	CloseShutdown = "shutdown"

	// Peer behavior.
	ClosePeerGone          = "peer_gone"
	CloseIdleTimeout       = "idle_timeout"
	CloseKeepaliveTimeout  = "keepalive_timeout"
	CloseProtocolViolation = "protocol_violation"
	CloseLoginRejected     = "login_rejected"

	// Local trouble.
	CloseWriteStall = "write_stall"
	CloseInternal   = "internal_error"
)

var knownClasses = map[string]struct{}{
	CloseNormal:            {},
	CloseShutdown:          {},
	ClosePeerGone:          {},
	CloseIdleTimeout:       {},
	CloseKeepaliveTimeout:  {},
	CloseProtocolViolation: {},
	CloseLoginRejected:     {},
	CloseWriteStall:        {},
	CloseInternal:          {},
}

func IsKnownClass(class string) bool {
	if class == "" {
		return true
	}
	_, ok := knownClasses[class]
	return ok
}
