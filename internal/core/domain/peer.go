package domain

import "time"

type PeerID string
type SessionID string

// ConnectionState is the lifecycle state of a peer transport.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateFailed        ConnectionState = "failed"
)

// Peer is a session member as seen by the control plane. The ID is stable:
// it survives transport teardown and reconnect attempts.
type Peer struct {
	ID            PeerID
	SessionID     SessionID
	Name          string
	Address       string
	TransportPort int
	State         ConnectionState
	Stats         PeerStats
	JoinedAt      time.Time
	LastSeen      time.Time
}

// PeerStats are the live transport statistics for one peer link.
type PeerStats struct {
	MessagesSent       uint64
	MessagesReceived   uint64
	EstimatedLatencyMs float64
	ClockOffsetMicros  int64
	ConnectedSince     time.Time
}
