package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/services"
	"midimesh/internal/infrastructure/repositories/memory"
	"midimesh/internal/infrastructure/wire"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type controlFixture struct {
	server  *httptest.Server
	control *ControlServer
	session *domain.Session
}

func newControlFixture(t *testing.T) *controlFixture {
	return newControlFixtureOpts(t, Options{
		PingInterval:      time.Second,
		PongTimeout:       5 * time.Second,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		TransportPort:     9100,
	})
}

func newControlFixtureOpts(t *testing.T, opts Options) *controlFixture {
	t.Helper()

	peerRepo := memory.NewPeerRepository()
	sessionRepo := memory.NewSessionRepository()
	svc := services.NewSessionService(sessionRepo, peerRepo, zap.NewNop().Sugar())

	session, err := svc.CreateSession(context.Background(), "studio", 4)
	require.NoError(t, err)

	control := NewControlServer(svc, opts, zap.NewNop().Sugar())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", control.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &controlFixture{server: srv, control: control, session: session}
}

func (f *controlFixture) dial(t *testing.T, peerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?peer_id=" + peerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg *wire.ControlMessage) *wire.ControlMessage {
	t.Helper()
	data, err := wire.EncodeControl(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	decoded, err := wire.DecodeControl(reply)
	require.NoError(t, err)
	return decoded
}

func TestAnnounceListsHostedSessions(t *testing.T) {
	f := newControlFixture(t)
	conn := f.dial(t, "peer-a")

	reply := roundTrip(t, conn, wire.NewControlMessage(wire.ControlAnnounce))
	assert.Equal(t, wire.ControlAnnounce, reply.Kind)
	assert.Equal(t, f.session.ID, reply.SessionID)
	assert.Equal(t, "studio", reply.SessionName)
	assert.Equal(t, 4, reply.MaxPeers)
	assert.Equal(t, 0, reply.CurrentPeerCount)
	assert.Equal(t, 9100, reply.TransportPort)
}

func TestJoinAcceptAndReject(t *testing.T) {
	f := newControlFixture(t)
	conn := f.dial(t, "peer-a")

	join := wire.NewControlMessage(wire.ControlJoinRequest)
	join.SessionID = f.session.ID
	join.PeerName = "Alice"
	join.TransportPort = 9200
	reply := roundTrip(t, conn, join)
	require.Equal(t, wire.ControlJoinAccept, reply.Kind)
	assert.Equal(t, domain.PeerID("peer-a"), reply.PeerID)
	assert.Equal(t, 1, reply.CurrentPeerCount)

	// An incompatible protocol revision gets a rejection, not an error.
	conn2 := f.dial(t, "peer-b")
	badJoin := wire.NewControlMessage(wire.ControlJoinRequest)
	badJoin.SessionID = f.session.ID
	badJoin.ProtocolVersion = 99
	reply2 := roundTrip(t, conn2, badJoin)
	require.Equal(t, wire.ControlJoinReject, reply2.Kind)
	assert.Contains(t, reply2.RejectReason, "protocol version")
}

func TestJoinRejectWhenFull(t *testing.T) {
	f := newControlFixture(t)

	for i, id := range []string{"p1", "p2", "p3", "p4"} {
		conn := f.dial(t, id)
		join := wire.NewControlMessage(wire.ControlJoinRequest)
		join.SessionID = f.session.ID
		reply := roundTrip(t, conn, join)
		require.Equal(t, wire.ControlJoinAccept, reply.Kind, "join %d", i)
	}

	conn := f.dial(t, "p5")
	join := wire.NewControlMessage(wire.ControlJoinRequest)
	join.SessionID = f.session.ID
	reply := roundTrip(t, conn, join)
	require.Equal(t, wire.ControlJoinReject, reply.Kind)
	assert.Contains(t, reply.RejectReason, "full")
}

func TestTimeSyncEchoesRequestTick(t *testing.T) {
	f := newControlFixture(t)
	conn := f.dial(t, "peer-a")

	req := wire.NewControlMessage(wire.ControlTimeSyncRequest)
	req.TimeSyncSamples = []int64{123456}
	reply := roundTrip(t, conn, req)
	require.Equal(t, wire.ControlTimeSyncResponse, reply.Kind)
	require.Len(t, reply.TimeSyncSamples, 2)
	assert.Equal(t, int64(123456), reply.TimeSyncSamples[0])
	assert.Greater(t, reply.TimeSyncSamples[1], int64(0))
}

func TestRateLimiterDropsMessagesOverBurst(t *testing.T) {
	f := newControlFixtureOpts(t, Options{
		PingInterval:      time.Minute,
		PongTimeout:       time.Minute,
		MessagesPerSecond: 0.001,
		MessageBurst:      1,
		TransportPort:     9100,
	})
	conn := f.dial(t, "peer-a")

	// The single burst token answers the first announce.
	reply := roundTrip(t, conn, wire.NewControlMessage(wire.ControlAnnounce))
	require.Equal(t, wire.ControlAnnounce, reply.Kind)

	// The second announce exceeds the burst and must be dropped silently.
	data, err := wire.EncodeControl(wire.NewControlMessage(wire.ControlAnnounce))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "announce over the burst should get no reply")
}

func TestFloodedConnectionClosesCleanly(t *testing.T) {
	f := newControlFixture(t)
	conn := f.dial(t, "peer-a")

	// Queue well past the handler's channel buffer, then drop the
	// connection while messages are still in flight.
	data, err := wire.EncodeControl(wire.NewControlMessage(wire.ControlHeartbeat))
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	}
	require.NoError(t, conn.Close())

	// The server must shed the dead connection and keep serving.
	conn2 := f.dial(t, "peer-b")
	reply := roundTrip(t, conn2, wire.NewControlMessage(wire.ControlAnnounce))
	assert.Equal(t, wire.ControlAnnounce, reply.Kind)
}

func TestRosterChangeHookFires(t *testing.T) {
	f := newControlFixture(t)

	type change struct {
		kind   wire.ControlKind
		peerID domain.PeerID
	}
	changes := make(chan change, 4)
	f.control.OnRosterChange = func(kind wire.ControlKind, _ domain.SessionID, peerID domain.PeerID) {
		changes <- change{kind, peerID}
	}

	conn := f.dial(t, "peer-a")
	join := wire.NewControlMessage(wire.ControlJoinRequest)
	join.SessionID = f.session.ID
	reply := roundTrip(t, conn, join)
	require.Equal(t, wire.ControlJoinAccept, reply.Kind)

	select {
	case got := <-changes:
		assert.Equal(t, wire.ControlJoinAccept, got.kind)
		assert.Equal(t, domain.PeerID("peer-a"), got.peerID)
	case <-time.After(2 * time.Second):
		t.Fatal("no roster change after join")
	}

	leave := wire.NewControlMessage(wire.ControlLeave)
	leave.SessionID = f.session.ID
	data, err := wire.EncodeControl(leave)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case got := <-changes:
		assert.Equal(t, wire.ControlLeave, got.kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no roster change after leave")
	}
}
