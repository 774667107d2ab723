package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"midimesh/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType identifies a roster event shared between nodes.
type EventType string

const (
	EventPeerJoined     EventType = "peer.joined"
	EventPeerLeft       EventType = "peer.left"
	EventPeerEvicted    EventType = "peer.evicted"
	EventSessionCreated EventType = "session.created"
	EventSessionEnded   EventType = "session.ended"
)

const eventChannel = "midimesh:events"

// Event is one roster change as published on the bus. InstanceID marks the
// originating node so subscribers can skip their own events.
type Event struct {
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	SessionID  domain.SessionID `json:"session_id,omitempty"`
	PeerID     domain.PeerID    `json:"peer_id,omitempty"`
}

// EventBus shares roster changes between nodes over redis pub/sub, so a
// peer joining through one node shows up on every node's control plane.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Publish sends one event to every subscribed node.
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published roster event",
		"type", event.Type,
		"session_id", event.SessionID,
		"peer_id", event.PeerID,
	)
	return nil
}

// Subscribe blocks delivering events to handler until ctx is cancelled.
// Events published by this node are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eventChannel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal roster event", "error", err, "payload", msg.Payload)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling roster event", "type", event.Type, "error", err)
			}
		}
	}
}

func (eb *EventBus) PublishPeerJoined(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerJoined, SessionID: sessionID, PeerID: peerID})
}

func (eb *EventBus) PublishPeerLeft(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerLeft, SessionID: sessionID, PeerID: peerID})
}

func (eb *EventBus) PublishPeerEvicted(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerEvicted, SessionID: sessionID, PeerID: peerID})
}

func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
