package ports

import (
	"context"

	"midimesh/internal/core/domain"
)

type PeerRepository interface {
	Add(ctx context.Context, peer *domain.Peer) error
	GetByID(ctx context.Context, id domain.PeerID) (*domain.Peer, error)
	Update(ctx context.Context, peer *domain.Peer) error
	Remove(ctx context.Context, id domain.PeerID) error
	FindBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Peer, error)
	Touch(ctx context.Context, id domain.PeerID) error
	UpdateStats(ctx context.Context, id domain.PeerID, stats domain.PeerStats) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]*domain.Session, error)
}
