/*
Package chat contains the live connection and broadcast engine.

This file defines the MessageGateway, the protocol state machine driving every
connection through Unauthenticated -> Authenticated -> Subscribed(room). All
inbound events enter through HandleEvent, regardless of how the transport pumps
them in. Rejections are typed events back to the client; nothing the client
sends terminates its own connection.
*/
package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"buzzline/internal/pkg/logx"
)

// MessageGateway interprets inbound events, validates them against connection
// state, membership, and rate limits, persists chat messages, and triggers
// fan-out.
type MessageGateway struct {
	registry    *ConnectionRegistry
	index       *SubscriptionIndex
	store       Store
	buzz        *BuzzLimiter
	broadcaster *Broadcaster
	logger      zerolog.Logger
}

// NewMessageGateway wires the gateway over its collaborators.
func NewMessageGateway(registry *ConnectionRegistry, index *SubscriptionIndex, store Store, buzz *BuzzLimiter, broadcaster *Broadcaster) *MessageGateway {
	return &MessageGateway{
		registry:    registry,
		index:       index,
		store:       store,
		buzz:        buzz,
		broadcaster: broadcaster,
		logger:      logx.Logger().With().Str("component", "MessageGateway").Logger(),
	}
}

// Admit registers a new connection and returns its id.
func (g *MessageGateway) Admit(sender Sender) ConnID {
	return g.registry.Admit(sender)
}

// Disconnect tears down everything the connection owned. It runs
// unconditionally whatever state the connection was in, and tolerates being
// invoked redundantly. In-flight broadcasts that already snapshotted the
// connection finish on their own, skipping the dead target.
func (g *MessageGateway) Disconnect(id ConnID) {
	g.registry.Remove(id)
}

// HandleEvent processes one inbound event for the connection. Malformed or
// out-of-state events are dropped or answered with a typed rejection; they are
// never fatal to the connection.
func (g *MessageGateway) HandleEvent(ctx context.Context, id ConnID, raw []byte) {
	var event InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		g.logger.Warn().Err(err).Uint64("conn_id", uint64(id)).Msg("Connection sent invalid JSON")
		return
	}

	switch event.Type {
	case EventAuth:
		g.handleAuth(ctx, id, event.SessionToken)

	case EventJoin:
		g.handleJoin(ctx, id, int64(event.RoomID))

	case EventMessage:
		g.handleMessage(ctx, id, event.Content)

	case EventTyping:
		g.handleTyping(id)

	case EventBuzz:
		g.handleBuzz(id)

	default:
		g.logger.Warn().Str("event_type", event.Type).Uint64("conn_id", uint64(id)).Msg("Connection sent unsupported event type")
	}
}

// handleAuth resolves the session token and promotes the connection. Re-auth
// on an already authenticated connection is allowed and replaces the snapshot.
// Failure leaves state untouched so the client can retry.
func (g *MessageGateway) handleAuth(ctx context.Context, id ConnID, token string) {
	if token == "" {
		g.sendEvent(id, typeOnlyEvent{Type: EventAuthFailed})
		return
	}

	identity, err := g.registry.Authenticate(ctx, id, token)
	if err != nil {
		g.logger.Error().Err(err).Uint64("conn_id", uint64(id)).Msg("Session resolution failed")
		g.sendEvent(id, typeOnlyEvent{Type: EventAuthFailed})
		return
	}
	if identity == nil {
		g.sendEvent(id, typeOnlyEvent{Type: EventAuthFailed})
		return
	}

	g.sendEvent(id, typeOnlyEvent{Type: EventAuthSuccess})
}

// handleJoin validates membership and switches the connection's subscription.
// Joins from unauthenticated connections are dropped silently.
func (g *MessageGateway) handleJoin(ctx context.Context, id ConnID, roomID int64) {
	identity := g.registry.Identity(id)
	if identity == nil || roomID == 0 {
		return
	}

	member, err := g.store.IsMember(ctx, identity.ID, roomID)
	if err != nil {
		g.logger.Error().Err(err).Int64("user_id", identity.ID).Int64("room_id", roomID).Msg("Membership lookup failed")
		g.sendEvent(id, joinFailedEvent{Type: EventJoinFailed, Error: "internal error"})
		return
	}
	if !member {
		g.sendEvent(id, joinFailedEvent{Type: EventJoinFailed, Error: "Not a member"})
		return
	}

	g.index.Join(id, roomID)
	g.sendEvent(id, joinedEvent{Type: EventJoined, RoomID: roomID})

	g.logger.Info().
		Uint64("conn_id", uint64(id)).
		Int64("user_id", identity.ID).
		Int64("room_id", roomID).
		Msg("Connection joined room")
}

// handleMessage persists the message and fans it out. The body is trimmed; an
// empty result is a benign no-op with no feedback, matching the validation
// posture of the rest of the protocol. Persistence failure aborts the event
// whole: no partial state, no fan-out.
func (g *MessageGateway) handleMessage(ctx context.Context, id ConnID, content string) {
	identity := g.registry.Identity(id)
	if identity == nil {
		return
	}

	roomID, subscribed := g.index.RoomOf(id)
	if !subscribed {
		return
	}

	body := strings.TrimSpace(content)
	if body == "" {
		return
	}

	msg, err := g.store.CreateMessage(ctx, roomID, identity.ID, body)
	if err != nil {
		g.logger.Error().Err(err).Int64("user_id", identity.ID).Int64("room_id", roomID).Msg("Message persistence failed, dropping event")
		return
	}

	g.broadcaster.FanOut(ctx, msg, *identity)
}

// handleTyping relays an ephemeral typing signal to every other connection in
// the sender's room. Nothing is persisted and delivery is best-effort.
func (g *MessageGateway) handleTyping(id ConnID) {
	identity := g.registry.Identity(id)
	if identity == nil {
		return
	}

	roomID, subscribed := g.index.RoomOf(id)
	if !subscribed {
		return
	}

	payload, err := json.Marshal(typingEvent{Type: EventTyping, Username: identity.Username})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to marshal typing event")
		return
	}

	for _, target := range g.registry.targets(g.index.RoomMembers(roomID)) {
		if target.id == id {
			continue
		}
		if err := target.sender.Send(payload); err != nil {
			g.logger.Warn().Err(err).Uint64("conn_id", uint64(target.id)).Msg("Failed to deliver typing event")
		}
	}
}

// handleBuzz fires the attention ping, subject to the per (user, room)
// cooldown. A rejection is a normal negative result carrying the remaining
// wait, not an error. A fired buzz reaches every connection in the room,
// the sender included.
func (g *MessageGateway) handleBuzz(id ConnID) {
	identity := g.registry.Identity(id)
	if identity == nil {
		return
	}

	roomID, subscribed := g.index.RoomOf(id)
	if !subscribed {
		return
	}

	ok, remaining := g.buzz.Try(identity.ID, roomID)
	if !ok {
		g.sendEvent(id, buzzCooldownEvent{Type: EventBuzzCooldown, RemainingMs: remaining.Milliseconds()})
		return
	}

	payload, err := json.Marshal(buzzEvent{Type: EventBuzz, Username: identity.Username, FromUserID: identity.ID})
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to marshal buzz event")
		return
	}

	for _, target := range g.registry.targets(g.index.RoomMembers(roomID)) {
		if err := target.sender.Send(payload); err != nil {
			g.logger.Warn().Err(err).Uint64("conn_id", uint64(target.id)).Msg("Failed to deliver buzz event")
		}
	}
}

// sendEvent marshals and queues one event to a single connection. Unknown
// connection ids are no-ops; the connection may have just disconnected.
func (g *MessageGateway) sendEvent(id ConnID, v any) {
	sender, ok := g.registry.Sender(id)
	if !ok {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		g.logger.Error().Err(err).Uint64("conn_id", uint64(id)).Msg("Failed to marshal outbound event")
		return
	}

	if err := sender.Send(payload); err != nil {
		g.logger.Warn().Err(err).Uint64("conn_id", uint64(id)).Msg("Failed to queue outbound event")
	}
}
