package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type PeerRepository struct {
	client *redis.Client
	prefix string
}

func NewPeerRepository(client *redis.Client) ports.PeerRepository {
	return &PeerRepository{
		client: client,
		prefix: "midimesh:peer:",
	}
}

func (r *PeerRepository) peerKey(id domain.PeerID) string {
	return r.prefix + string(id)
}

func (r *PeerRepository) sessionPeersKey(sessionID domain.SessionID) string {
	return fmt.Sprintf("midimesh:session:%s:peers", sessionID)
}

func (r *PeerRepository) Add(ctx context.Context, peer *domain.Peer) error {
	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer: %w", err)
	}

	if err := r.client.Set(ctx, r.peerKey(peer.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set peer in Redis: %w", err)
	}
	if peer.SessionID != "" {
		if err := r.client.SAdd(ctx, r.sessionPeersKey(peer.SessionID), string(peer.ID)).Err(); err != nil {
			return fmt.Errorf("failed to add peer to session set: %w", err)
		}
	}
	return nil
}

func (r *PeerRepository) GetByID(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	data, err := r.client.Get(ctx, r.peerKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get peer from Redis: %w", err)
	}

	var peer domain.Peer
	if err := json.Unmarshal([]byte(data), &peer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal peer: %w", err)
	}
	return &peer, nil
}

func (r *PeerRepository) Update(ctx context.Context, peer *domain.Peer) error {
	existing, err := r.GetByID(ctx, peer.ID)
	if err != nil {
		return err
	}
	if existing.SessionID != peer.SessionID && existing.SessionID != "" {
		if err := r.client.SRem(ctx, r.sessionPeersKey(existing.SessionID), string(peer.ID)).Err(); err != nil {
			return fmt.Errorf("failed to move peer between session sets: %w", err)
		}
	}
	return r.Add(ctx, peer)
}

func (r *PeerRepository) Remove(ctx context.Context, id domain.PeerID) error {
	peer, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if peer.SessionID != "" {
		if err := r.client.SRem(ctx, r.sessionPeersKey(peer.SessionID), string(id)).Err(); err != nil {
			return fmt.Errorf("failed to remove peer from session set: %w", err)
		}
	}
	if err := r.client.Del(ctx, r.peerKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete peer from Redis: %w", err)
	}
	return nil
}

func (r *PeerRepository) FindBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Peer, error) {
	peerIDs, err := r.client.SMembers(ctx, r.sessionPeersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session peers from Redis: %w", err)
	}

	var peers []*domain.Peer
	for _, idStr := range peerIDs {
		peer, err := r.GetByID(ctx, domain.PeerID(idStr))
		if err != nil {
			// Skip peers whose records have already expired
			continue
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

func (r *PeerRepository) Touch(ctx context.Context, id domain.PeerID) error {
	peer, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	peer.LastSeen = time.Now()
	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer: %w", err)
	}
	return r.client.Set(ctx, r.peerKey(id), data, 0).Err()
}

func (r *PeerRepository) UpdateStats(ctx context.Context, id domain.PeerID, stats domain.PeerStats) error {
	peer, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	peer.Stats = stats
	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer: %w", err)
	}
	return r.client.Set(ctx, r.peerKey(id), data, 0).Err()
}
