package domain

import "time"

// ProtocolVersion is the control-plane protocol revision this build speaks.
const ProtocolVersion = 1

// DefaultMaxPeers caps session membership unless configured otherwise.
const DefaultMaxPeers = 8

// Session is one named group of peers exchanging performance events.
type Session struct {
	ID        SessionID
	Name      string
	MaxPeers  int
	CreatedAt time.Time
}

// HasCapacity reports whether one more peer may join given the current count.
func (s *Session) HasCapacity(current int) bool {
	return current < s.MaxPeers
}
