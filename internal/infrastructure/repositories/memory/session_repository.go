package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"
)

type SessionRepository struct {
	sessions map[domain.SessionID]*domain.Session
	mu       sync.RWMutex
}

func NewSessionRepository() ports.SessionRepository {
	return &SessionRepository{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %s", session.ID)
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *SessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		cp := *session
		sessions = append(sessions, &cp)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
