package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"
	"midimesh/internal/infrastructure/wire"
	"midimesh/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be restricted for production deployments
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tunes the control-plane server.
type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	TransportPort     int
}

// ControlServer carries session control messages (announce, join, leave,
// heartbeat, time-sync) over websocket connections. One websocket maps to
// one peer; the event transport itself runs on a separate TCP stream.
type ControlServer struct {
	sessions ports.SessionService
	opts     Options

	// OnRosterChange, when set, is called after a successful join or
	// leave so the node can fan the change out (e.g. to other nodes).
	OnRosterChange func(kind wire.ControlKind, sessionID domain.SessionID, peerID domain.PeerID)

	connections map[domain.PeerID]*websocket.Conn
	mu          sync.RWMutex

	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewControlServer(sessions ports.SessionService, opts Options, logger *zap.SugaredLogger) *ControlServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 100
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 200
	}
	return &ControlServer{
		sessions:     sessions,
		opts:         opts,
		connections:  make(map[domain.PeerID]*websocket.Conn),
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

func (s *ControlServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	if peerID == "" {
		s.logger.Warn("missing peer_id in query parameters")
		return
	}

	s.mu.Lock()
	if existing, isReconnect := s.connections[peerID]; isReconnect && existing != nil {
		existing.Close()
		s.logger.Infow("closing old control connection for reconnecting peer", "peer_id", peerID)
	}
	s.connections[peerID] = conn
	s.mu.Unlock()

	s.logger.Infow("peer connected to control plane", "peer_id", peerID)

	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst)

	messageChan := make(chan *wire.ControlMessage, 16)
	errorChan := make(chan error, 1)

	// done unblocks the reader's channel send when the handler loop exits
	// first (e.g. on a ping write failure with messages still queued).
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

			if !limiter.Allow() {
				s.logger.Warnw("dropping control message over rate limit", "peer_id", peerID)
				continue
			}
			msg, err := wire.DecodeControl(data)
			if err != nil {
				s.logger.Warnw("dropping malformed control message", "peer_id", peerID, "error", err)
				continue
			}
			select {
			case messageChan <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(context.Background(), peerID, conn, msg); err != nil {
				s.logger.Infow("error handling control message",
					"peer_id", peerID,
					"kind", msg.Kind,
					"error", err,
				)
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				s.cleanup(peerID)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("control connection read failed", "peer_id", peerID, "error", err)
			}
			s.cleanup(peerID)
			return
		}
	}
}

func (s *ControlServer) cleanup(peerID domain.PeerID) {
	s.mu.Lock()
	delete(s.connections, peerID)
	s.mu.Unlock()
	s.logger.Infow("peer disconnected from control plane", "peer_id", peerID)
}

func (s *ControlServer) handleMessage(ctx context.Context, peerID domain.PeerID, conn *websocket.Conn, msg *wire.ControlMessage) error {
	if msg.PeerID != "" && msg.PeerID != peerID {
		return fmt.Errorf("peer_id mismatch: expected %s, got %s", peerID, msg.PeerID)
	}

	ctx, span := tracing.TraceControlMessage(ctx, string(msg.Kind), string(peerID))
	defer span.End()
	if err := s.dispatch(ctx, peerID, conn, msg); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	return nil
}

func (s *ControlServer) dispatch(ctx context.Context, peerID domain.PeerID, conn *websocket.Conn, msg *wire.ControlMessage) error {
	switch msg.Kind {
	case wire.ControlAnnounce:
		return s.handleAnnounce(ctx, conn, msg)
	case wire.ControlJoinRequest:
		return s.handleJoin(ctx, peerID, conn, msg)
	case wire.ControlLeave:
		if err := s.sessions.Leave(ctx, msg.SessionID, peerID); err != nil {
			return err
		}
		s.notifyRosterChange(wire.ControlLeave, msg.SessionID, peerID)
		return nil
	case wire.ControlHeartbeat:
		return s.sessions.Heartbeat(ctx, peerID)
	case wire.ControlTimeSyncRequest:
		return s.handleTimeSync(conn, msg)
	default:
		return fmt.Errorf("unexpected control message kind %q", msg.Kind)
	}
}

// handleAnnounce advertises the sessions this node hosts. A session manager
// built on multicast would push these unsolicited; over websocket the peer
// asks and gets one announce per session.
func (s *ControlServer) handleAnnounce(ctx context.Context, conn *websocket.Conn, _ *wire.ControlMessage) error {
	sessions, err := s.sessions.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		roster, err := s.sessions.Roster(ctx, session.ID)
		if err != nil {
			return err
		}
		reply := wire.NewControlMessage(wire.ControlAnnounce)
		reply.SessionID = session.ID
		reply.SessionName = session.Name
		reply.MaxPeers = session.MaxPeers
		reply.CurrentPeerCount = len(roster)
		reply.TransportPort = s.opts.TransportPort
		reply.TimestampTicks = time.Now().UnixMicro()
		if err := s.send(conn, reply); err != nil {
			return err
		}
	}
	return nil
}

func (s *ControlServer) handleJoin(ctx context.Context, peerID domain.PeerID, conn *websocket.Conn, msg *wire.ControlMessage) error {
	peer := &domain.Peer{
		ID:            peerID,
		Name:          msg.PeerName,
		TransportPort: msg.TransportPort,
		State:         domain.StateConnected,
	}
	result, err := s.sessions.Join(ctx, msg.SessionID, peer, msg.ProtocolVersion)
	if err != nil {
		return err
	}

	if !result.Accepted {
		reply := wire.NewControlMessage(wire.ControlJoinReject)
		reply.SessionID = msg.SessionID
		reply.PeerID = peerID
		reply.RejectReason = result.RejectReason
		if result.Session != nil {
			reply.SessionName = result.Session.Name
			reply.MaxPeers = result.Session.MaxPeers
		}
		return s.send(conn, reply)
	}

	reply := wire.NewControlMessage(wire.ControlJoinAccept)
	reply.SessionID = result.Session.ID
	reply.SessionName = result.Session.Name
	reply.PeerID = peerID
	reply.MaxPeers = result.Session.MaxPeers
	reply.CurrentPeerCount = len(result.Roster) + 1
	reply.TransportPort = s.opts.TransportPort
	if err := s.send(conn, reply); err != nil {
		return err
	}
	s.notifyRosterChange(wire.ControlJoinAccept, result.Session.ID, peerID)
	return nil
}

func (s *ControlServer) notifyRosterChange(kind wire.ControlKind, sessionID domain.SessionID, peerID domain.PeerID) {
	if s.OnRosterChange != nil {
		s.OnRosterChange(kind, sessionID, peerID)
	}
}

// handleTimeSync implements the responder half of the 3-timestamp exchange:
// the requester's send tick comes in as sample 0, this node appends its
// receive/respond tick, and the requester records sample 2 on arrival.
func (s *ControlServer) handleTimeSync(conn *websocket.Conn, msg *wire.ControlMessage) error {
	if len(msg.TimeSyncSamples) < 1 {
		return fmt.Errorf("%w: timesync request carries no samples", domain.ErrProtocolViolation)
	}
	reply := wire.NewControlMessage(wire.ControlTimeSyncResponse)
	reply.SessionID = msg.SessionID
	reply.PeerID = msg.PeerID
	reply.TimeSyncSamples = []int64{msg.TimeSyncSamples[0], time.Now().UnixMicro()}
	return s.send(conn, reply)
}

func (s *ControlServer) send(conn *websocket.Conn, msg *wire.ControlMessage) error {
	data, err := wire.EncodeControl(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcast pushes one control message to every connected peer, e.g. a
// leave notification after a stale-peer eviction.
func (s *ControlServer) Broadcast(msg *wire.ControlMessage) {
	data, err := wire.EncodeControl(msg)
	if err != nil {
		s.logger.Errorw("failed to encode broadcast", "error", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for peerID, conn := range s.connections {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warnw("broadcast write failed", "peer_id", peerID, "error", err)
		}
	}
}

// HealthCheck reports basic liveness for the control plane.
func (s *ControlServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.connections)
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","control_connections":%d}`, n)
}
