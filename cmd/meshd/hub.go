package main

import (
	"sync"

	"midimesh/internal/core/domain"
	"midimesh/internal/infrastructure/transport"

	"go.uber.org/zap"
)

// eventHub tracks the connections accepted by the transport listener and
// relays every received event to the other connected peers. Events are
// forwarded with their original timestamps so receivers can apply their own
// clock offset.
type eventHub struct {
	mu     sync.RWMutex
	peers  map[domain.PeerID]*transport.PeerConnection
	logger *zap.SugaredLogger
}

func newEventHub(logger *zap.SugaredLogger) *eventHub {
	return &eventHub{
		peers:  make(map[domain.PeerID]*transport.PeerConnection),
		logger: logger,
	}
}

func (h *eventHub) addPeer(pc *transport.PeerConnection) {
	h.mu.Lock()
	h.peers[pc.ID()] = pc
	h.mu.Unlock()
	h.logger.Infow("peer attached", "peer_id", pc.ID(), "remote", pc.RemoteAddress())
}

func (h *eventHub) removePeer(id domain.PeerID) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}

func (h *eventHub) disconnectAll() {
	h.mu.Lock()
	peers := make([]*transport.PeerConnection, 0, len(h.peers))
	for _, pc := range h.peers {
		peers = append(peers, pc)
	}
	h.peers = make(map[domain.PeerID]*transport.PeerConnection)
	h.mu.Unlock()

	for _, pc := range peers {
		if err := pc.Disconnect(); err != nil {
			h.logger.Warnw("disconnect failed", "peer_id", pc.ID(), "error", err)
		}
	}
}

// OnEvent relays the event to every other connected peer. A full send queue
// on one peer must not stall delivery to the rest, so the drop is logged and
// forwarding continues.
func (h *eventHub) OnEvent(peerID domain.PeerID, event domain.Event, _ int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, pc := range h.peers {
		if id == peerID {
			continue
		}
		if err := pc.SendEvent(event); err != nil {
			h.logger.Debugw("relay dropped", "from", peerID, "to", id, "error", err)
		}
	}
}

func (h *eventHub) OnStateChange(peerID domain.PeerID, from, to domain.ConnectionState) {
	h.logger.Debugw("peer state changed", "peer_id", peerID, "from", from, "to", to)
	if to == domain.StateDisconnected || to == domain.StateFailed {
		h.removePeer(peerID)
	}
}

func (h *eventHub) OnError(peerID domain.PeerID, err error) {
	h.logger.Warnw("peer transport error", "peer_id", peerID, "error", err)
}
