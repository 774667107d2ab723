package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type SessionRepository struct {
	client *redis.Client
	prefix string
	setKey string
}

func NewSessionRepository(client *redis.Client) ports.SessionRepository {
	return &SessionRepository{
		client: client,
		prefix: "midimesh:sessiondef:",
		setKey: "midimesh:sessions",
	}
}

func (r *SessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	if err := r.client.SAdd(ctx, r.setKey, string(session.ID)).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	if err := r.client.SRem(ctx, r.setKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to unindex session: %w", err)
	}
	if err := r.client.Del(ctx, r.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

func (r *SessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions from Redis: %w", err)
	}

	var sessions []*domain.Session
	for _, idStr := range ids {
		session, err := r.GetByID(ctx, domain.SessionID(idStr))
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
