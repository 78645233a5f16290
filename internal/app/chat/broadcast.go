/*
Package chat contains the live connection and broadcast engine.

This file implements the fan-out rule set for newly persisted messages:
connections viewing the room get the full payload and have their user's read
marker advanced; members who are connected elsewhere get a lightweight room
summary; members with no live connection get nothing.
*/
package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"buzzline/internal/app/user"
	"buzzline/internal/pkg/logx"
)

// previewLimit caps the summary preview length in the room_update event.
const previewLimit = 50

// Broadcaster computes and executes the fan-out for persisted messages.
// Index and registry snapshots are taken under their locks; every network send
// happens lock-free so one slow client cannot stall delivery to the rest.
type Broadcaster struct {
	registry *ConnectionRegistry
	index    *SubscriptionIndex
	store    Store
	logger   zerolog.Logger
}

// NewBroadcaster creates a Broadcaster over the given registry, index, and store.
func NewBroadcaster(registry *ConnectionRegistry, index *SubscriptionIndex, store Store) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		index:    index,
		store:    store,
		logger:   logx.Logger().With().Str("component", "Broadcaster").Logger(),
	}
}

// FanOut delivers the persisted message. The message already has its id: the
// store assigned it before fan-out began, so every recipient observes the same
// ordering key. Per-target send failures are logged and skipped; they never
// abort delivery to the remaining targets.
func (b *Broadcaster) FanOut(ctx context.Context, msg ChatMessage, author user.User) {
	full, err := json.Marshal(messageEvent{
		Type: EventMessage,
		Message: MessagePayload{
			ChatMessage:  msg,
			AuthorName:   author.Username,
			AuthorAvatar: author.AvatarURL,
		},
	})
	if err != nil {
		b.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to marshal message event")
		return
	}

	satisfied := b.deliverInRoom(ctx, msg, full)
	b.deliverSummaries(ctx, msg, satisfied)
}

// deliverInRoom sends the full payload to every authenticated connection
// subscribed to the room and advances the read marker once per user that
// received at least one copy. It returns the set of satisfied user ids.
func (b *Broadcaster) deliverInRoom(ctx context.Context, msg ChatMessage, payload []byte) map[int64]struct{} {
	satisfied := make(map[int64]struct{})

	for _, target := range b.registry.targets(b.index.RoomMembers(msg.RoomID)) {
		if target.identity == nil {
			continue
		}

		if err := target.sender.Send(payload); err != nil {
			b.logger.Warn().
				Err(err).
				Uint64("conn_id", uint64(target.id)).
				Int64("message_id", msg.ID).
				Msg("Failed to deliver message to in-room connection")
			continue
		}

		satisfied[target.identity.ID] = struct{}{}
	}

	// One advance per user, not per connection. Duplicate advances would be
	// harmless anyway since the marker only moves forward.
	for userID := range satisfied {
		if err := b.store.AdvanceReadMarker(ctx, userID, msg.RoomID, msg.ID); err != nil {
			b.logger.Error().
				Err(err).
				Int64("user_id", userID).
				Int64("room_id", msg.RoomID).
				Msg("Failed to advance read marker")
		}
	}

	return satisfied
}

// deliverSummaries sends a room_update to every live connection of members who
// did not receive the full payload. Members with no connection receive nothing.
func (b *Broadcaster) deliverSummaries(ctx context.Context, msg ChatMessage, satisfied map[int64]struct{}) {
	members, err := b.store.RoomMembers(ctx, msg.RoomID)
	if err != nil {
		b.logger.Error().Err(err).Int64("room_id", msg.RoomID).Msg("Failed to load room members for summary fan-out")
		return
	}

	summary, err := json.Marshal(roomUpdateEvent{
		Type:               EventRoomUpdate,
		RoomID:             msg.RoomID,
		LastMessagePreview: previewOf(msg.Body),
		LastMessageTime:    msg.CreatedAt.Format(time.RFC3339),
		FromUserID:         msg.AuthorID,
	})
	if err != nil {
		b.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to marshal room update event")
		return
	}

	for _, memberID := range members {
		if _, ok := satisfied[memberID]; ok {
			continue
		}

		for _, target := range b.registry.targets(b.index.UserConnections(memberID)) {
			if err := target.sender.Send(summary); err != nil {
				b.logger.Warn().
					Err(err).
					Uint64("conn_id", uint64(target.id)).
					Int64("user_id", memberID).
					Msg("Failed to deliver room update")
			}
		}
	}
}

// previewOf truncates the body to previewLimit characters, marking truncation
// with a trailing ellipsis.
func previewOf(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLimit {
		return body
	}
	return string(runes[:previewLimit]) + "..."
}
