package wire

import (
	"encoding/json"
	"fmt"

	"midimesh/internal/core/domain"
)

// ControlKind names one session control-plane message type.
type ControlKind string

const (
	ControlAnnounce         ControlKind = "announce"
	ControlJoinRequest      ControlKind = "join_request"
	ControlJoinAccept       ControlKind = "join_accept"
	ControlJoinReject       ControlKind = "join_reject"
	ControlLeave            ControlKind = "leave"
	ControlHeartbeat        ControlKind = "heartbeat"
	ControlTimeSyncRequest  ControlKind = "timesync_request"
	ControlTimeSyncResponse ControlKind = "timesync_response"
)

// ControlMessage is one discrete control-plane message. It is carried as a
// single JSON document per datagram (or websocket message); unknown fields
// are ignored on decode and absent optional fields decode to zero values.
type ControlMessage struct {
	Kind             ControlKind      `json:"kind"`
	SessionID        domain.SessionID `json:"session_id,omitempty"`
	PeerID           domain.PeerID    `json:"peer_id,omitempty"`
	SessionName      string           `json:"session_name,omitempty"`
	PeerName         string           `json:"peer_name,omitempty"`
	TransportPort    int              `json:"transport_port,omitempty"`
	TimestampTicks   int64            `json:"timestamp_ticks,omitempty"`
	ProtocolVersion  int              `json:"protocol_version,omitempty"`
	RejectReason     string           `json:"reject_reason,omitempty"`
	MaxPeers         int              `json:"max_peers,omitempty"`
	CurrentPeerCount int              `json:"current_peer_count,omitempty"`

	// TimeSyncSamples carries the 3-point exchange timestamps in order:
	// request sent, request received / response sent, response received.
	TimeSyncSamples []int64 `json:"timesync_samples,omitempty"`
}

// NewControlMessage fills in the defaults every outgoing message carries.
func NewControlMessage(kind ControlKind) *ControlMessage {
	return &ControlMessage{
		Kind:            kind,
		ProtocolVersion: domain.ProtocolVersion,
		MaxPeers:        domain.DefaultMaxPeers,
	}
}

// EncodeControl serializes a control message to its JSON wire form.
func EncodeControl(msg *ControlMessage) ([]byte, error) {
	if msg == nil || msg.Kind == "" {
		return nil, fmt.Errorf("%w: control message requires a kind", domain.ErrInvalidArgument)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}
	return data, nil
}

// DecodeControl parses a control message. Messages with no kind are
// malformed; everything else is tolerated so newer peers can extend the
// format without breaking older ones.
func DecodeControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocolViolation, err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: control message missing kind", domain.ErrProtocolViolation)
	}
	return &msg, nil
}
