package services

import (
	"context"
	"fmt"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"
	"midimesh/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionService struct {
	sessionRepo ports.SessionRepository
	peerRepo    ports.PeerRepository
	logger      *zap.SugaredLogger
}

func NewSessionService(
	sessionRepo ports.SessionRepository,
	peerRepo ports.PeerRepository,
	logger *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		peerRepo:    peerRepo,
		logger:      logger,
	}
}

func (s *sessionService) CreateSession(ctx context.Context, name string, maxPeers int) (*domain.Session, error) {
	if err := validation.ValidateSessionName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if maxPeers <= 0 {
		maxPeers = domain.DefaultMaxPeers
	}
	if err := validation.ValidateMaxPeers(maxPeers); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	session := &domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Name:      name,
		MaxPeers:  maxPeers,
		CreatedAt: time.Now(),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Infow("session created", "session_id", session.ID, "name", name, "max_peers", maxPeers)
	return session, nil
}

func (s *sessionService) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.sessionRepo.GetByID(ctx, id)
}

func (s *sessionService) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.sessionRepo.List(ctx)
}

// Join admits a peer into a session. Admission fails as a rejection (not an
// error) when the session is at capacity or the peer speaks an incompatible
// protocol revision; transport-level details stay with the caller.
func (s *sessionService) Join(ctx context.Context, sessionID domain.SessionID, peer *domain.Peer, protocolVersion int) (*ports.JoinResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if protocolVersion != domain.ProtocolVersion {
		return &ports.JoinResult{
			Accepted:     false,
			RejectReason: fmt.Sprintf("protocol version %d not supported, expected %d", protocolVersion, domain.ProtocolVersion),
			Session:      session,
		}, nil
	}

	roster, err := s.peerRepo.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasCapacity(len(roster)) {
		return &ports.JoinResult{
			Accepted:     false,
			RejectReason: fmt.Sprintf("session full (%d/%d peers)", len(roster), session.MaxPeers),
			Session:      session,
		}, nil
	}

	if peer.ID == "" {
		peer.ID = domain.PeerID(uuid.NewString())
	} else if err := validation.ValidatePeerID(string(peer.ID)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	peer.Name = validation.SanitizeString(peer.Name)
	peer.SessionID = sessionID
	peer.JoinedAt = time.Now()
	peer.LastSeen = peer.JoinedAt

	// A returning peer keeps its identity: rebind instead of duplicating.
	if existing, err := s.peerRepo.GetByID(ctx, peer.ID); err == nil {
		peer.JoinedAt = existing.JoinedAt
		if err := s.peerRepo.Update(ctx, peer); err != nil {
			return nil, err
		}
	} else if err := s.peerRepo.Add(ctx, peer); err != nil {
		return nil, err
	}

	s.logger.Infow("peer joined session",
		"session_id", sessionID,
		"peer_id", peer.ID,
		"peer_name", peer.Name,
		"peer_count", len(roster)+1,
	)
	return &ports.JoinResult{
		Accepted: true,
		Session:  session,
		Roster:   roster,
	}, nil
}

func (s *sessionService) Leave(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	peer, err := s.peerRepo.GetByID(ctx, peerID)
	if err != nil {
		return err
	}
	if peer.SessionID != sessionID {
		return fmt.Errorf("%w: peer %s is not in session %s", domain.ErrPeerNotFound, peerID, sessionID)
	}
	if err := s.peerRepo.Remove(ctx, peerID); err != nil {
		return err
	}
	s.logger.Infow("peer left session", "session_id", sessionID, "peer_id", peerID)
	return nil
}

func (s *sessionService) Heartbeat(ctx context.Context, peerID domain.PeerID) error {
	return s.peerRepo.Touch(ctx, peerID)
}

func (s *sessionService) Roster(ctx context.Context, sessionID domain.SessionID) ([]*domain.Peer, error) {
	if _, err := s.sessionRepo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.peerRepo.FindBySession(ctx, sessionID)
}

// EvictStale removes peers whose last heartbeat is older than the cutoff and
// returns how many were dropped.
func (s *sessionService) EvictStale(ctx context.Context, olderThan time.Duration) (int, error) {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	evicted := 0
	for _, session := range sessions {
		peers, err := s.peerRepo.FindBySession(ctx, session.ID)
		if err != nil {
			return evicted, err
		}
		for _, peer := range peers {
			if peer.LastSeen.Before(cutoff) {
				if err := s.peerRepo.Remove(ctx, peer.ID); err != nil {
					s.logger.Warnw("failed to evict stale peer", "peer_id", peer.ID, "error", err)
					continue
				}
				evicted++
				s.logger.Infow("evicted stale peer",
					"session_id", session.ID,
					"peer_id", peer.ID,
					"last_seen", peer.LastSeen,
				)
			}
		}
	}
	return evicted, nil
}
