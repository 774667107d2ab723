package ports

import (
	"midimesh/internal/core/domain"
)

// ConnectionHandler receives transport notifications. Methods are invoked
// from the connection's own goroutines, in wire order for events and state
// order for transitions; implementations must not block for long.
type ConnectionHandler interface {
	// OnEvent delivers one decoded performance event together with the
	// local monotonic receive timestamp in microseconds.
	OnEvent(peerID domain.PeerID, event domain.Event, localRecvMicros int64)
	OnStateChange(peerID domain.PeerID, from, to domain.ConnectionState)
	OnError(peerID domain.PeerID, err error)
}

// MetricsCollector abstracts the monitoring backend so transport code does
// not depend on prometheus directly.
type MetricsCollector interface {
	RecordPeerConnected(sessionID domain.SessionID)
	RecordPeerDisconnected(sessionID domain.SessionID)
	RecordEventSent(kind domain.EventKind)
	RecordEventReceived(kind domain.EventKind)
	RecordRoundTrip(seconds float64)
	RecordClockOffset(peerID domain.PeerID, offsetMicros int64)
	RecordProtocolViolation()
}
