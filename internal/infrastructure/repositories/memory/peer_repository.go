package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"
)

type PeerRepository struct {
	peers map[domain.PeerID]*domain.Peer
	mu    sync.RWMutex
}

func NewPeerRepository() ports.PeerRepository {
	return &PeerRepository{
		peers: make(map[domain.PeerID]*domain.Peer),
	}
}

func (r *PeerRepository) Add(ctx context.Context, peer *domain.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[peer.ID]; exists {
		return fmt.Errorf("peer already exists: %s", peer.ID)
	}
	cp := *peer
	r.peers[peer.ID] = &cp
	return nil
}

func (r *PeerRepository) GetByID(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, exists := r.peers[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	cp := *peer
	return &cp, nil
}

func (r *PeerRepository) Update(ctx context.Context, peer *domain.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[peer.ID]; !exists {
		return domain.ErrPeerNotFound
	}
	cp := *peer
	r.peers[peer.ID] = &cp
	return nil
}

func (r *PeerRepository) Remove(ctx context.Context, id domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[id]; !exists {
		return domain.ErrPeerNotFound
	}
	delete(r.peers, id)
	return nil
}

func (r *PeerRepository) FindBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessionPeers []*domain.Peer
	for _, peer := range r.peers {
		if peer.SessionID == sessionID {
			cp := *peer
			sessionPeers = append(sessionPeers, &cp)
		}
	}
	return sessionPeers, nil
}

func (r *PeerRepository) Touch(ctx context.Context, id domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, exists := r.peers[id]
	if !exists {
		return domain.ErrPeerNotFound
	}
	peer.LastSeen = time.Now()
	return nil
}

func (r *PeerRepository) UpdateStats(ctx context.Context, id domain.PeerID, stats domain.PeerStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, exists := r.peers[id]
	if !exists {
		return domain.ErrPeerNotFound
	}
	peer.Stats = stats
	return nil
}
