package services

import (
	"context"
	"testing"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService() *sessionService {
	return &sessionService{
		sessionRepo: memory.NewSessionRepository(),
		peerRepo:    memory.NewPeerRepository(),
		logger:      zap.NewNop().Sugar(),
	}
}

func TestJoin_AcceptAndRoster(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "rehearsal", 4)
	require.NoError(t, err)

	first := &domain.Peer{Name: "alpha", Address: "10.0.0.1", TransportPort: 9000}
	res, err := svc.Join(ctx, session.ID, first, domain.ProtocolVersion)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Roster)
	assert.NotEmpty(t, first.ID)

	second := &domain.Peer{Name: "beta", Address: "10.0.0.2", TransportPort: 9001}
	res, err = svc.Join(ctx, session.ID, second, domain.ProtocolVersion)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.Len(t, res.Roster, 1)
	assert.Equal(t, first.ID, res.Roster[0].ID)
}

func TestJoin_RejectAtCapacity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "duo", 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := svc.Join(ctx, session.ID, &domain.Peer{Name: "p"}, domain.ProtocolVersion)
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}

	res, err := svc.Join(ctx, session.ID, &domain.Peer{Name: "late"}, domain.ProtocolVersion)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.RejectReason, "full")
}

func TestJoin_RejectBadProtocolVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxPeers, session.MaxPeers)

	res, err := svc.Join(ctx, session.ID, &domain.Peer{Name: "old"}, 99)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.RejectReason, "protocol version")
}

func TestJoin_RejoinKeepsIdentity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s", 4)
	require.NoError(t, err)

	peer := &domain.Peer{Name: "alpha"}
	_, err = svc.Join(ctx, session.ID, peer, domain.ProtocolVersion)
	require.NoError(t, err)
	id := peer.ID

	rejoin := &domain.Peer{ID: id, Name: "alpha", Address: "10.0.0.9"}
	res, err := svc.Join(ctx, session.ID, rejoin, domain.ProtocolVersion)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	roster, err := svc.Roster(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, id, roster[0].ID)
	assert.Equal(t, "10.0.0.9", roster[0].Address)
}

func TestLeave(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s", 4)
	require.NoError(t, err)

	peer := &domain.Peer{Name: "alpha"}
	_, err = svc.Join(ctx, session.ID, peer, domain.ProtocolVersion)
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, session.ID, peer.ID))
	roster, err := svc.Roster(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, roster)

	assert.ErrorIs(t, svc.Leave(ctx, session.ID, peer.ID), domain.ErrPeerNotFound)
}

func TestEvictStale(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s", 4)
	require.NoError(t, err)

	fresh := &domain.Peer{Name: "fresh"}
	stale := &domain.Peer{Name: "stale"}
	_, err = svc.Join(ctx, session.ID, fresh, domain.ProtocolVersion)
	require.NoError(t, err)
	_, err = svc.Join(ctx, session.ID, stale, domain.ProtocolVersion)
	require.NoError(t, err)

	// Age the stale peer past the cutoff.
	aged, err := svc.peerRepo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	aged.LastSeen = time.Now().Add(-time.Minute)
	require.NoError(t, svc.peerRepo.Update(ctx, aged))

	evicted, err := svc.EvictStale(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	roster, err := svc.Roster(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, fresh.ID, roster[0].ID)
}

func TestHeartbeat_RefreshesLastSeen(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "s", 4)
	require.NoError(t, err)

	peer := &domain.Peer{Name: "alpha"}
	_, err = svc.Join(ctx, session.ID, peer, domain.ProtocolVersion)
	require.NoError(t, err)

	before, err := svc.peerRepo.GetByID(ctx, peer.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, svc.Heartbeat(ctx, peer.ID))

	after, err := svc.peerRepo.GetByID(ctx, peer.ID)
	require.NoError(t, err)
	assert.True(t, after.LastSeen.After(before.LastSeen))
}
