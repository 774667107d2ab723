package ports

import (
	"context"
	"time"

	"midimesh/internal/core/domain"
)

// JoinResult is what admission returns to the joining peer: either an
// accepted membership with the current roster, or a rejection reason.
type JoinResult struct {
	Accepted     bool
	RejectReason string
	Session      *domain.Session
	Roster       []*domain.Peer
}

type SessionService interface {
	CreateSession(ctx context.Context, name string, maxPeers int) (*domain.Session, error)
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	Join(ctx context.Context, sessionID domain.SessionID, peer *domain.Peer, protocolVersion int) (*JoinResult, error)
	Leave(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error
	Heartbeat(ctx context.Context, peerID domain.PeerID) error
	Roster(ctx context.Context, sessionID domain.SessionID) ([]*domain.Peer, error)
	EvictStale(ctx context.Context, olderThan time.Duration) (int, error)
}
