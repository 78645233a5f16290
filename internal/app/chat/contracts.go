/*
Package chat contains the live connection and broadcast engine: connection
registry, room subscription tracking, the inbound event state machine, and the
dual-path message fan-out.

This file defines the collaborator contracts the engine depends on. Persistence
and session validation are external concerns; the engine only ever calls them.
*/
package chat

import (
	"context"
	"time"

	"buzzline/internal/app/user"
)

// ChatMessage is a persisted chat message. The id is assigned by the store and
// increases monotonically per room; the engine treats it as the ordering key
// for read-marker comparisons.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	AuthorID  int64     `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the durable persistence collaborator. Implementations must be safe
// for concurrent use; the engine performs no serialization on their behalf.
type Store interface {
	// IsMember reports whether the user holds a membership in the room.
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)

	// RoomMembers returns the ids of every user with a membership in the room,
	// connected or not.
	RoomMembers(ctx context.Context, roomID int64) ([]int64, error)

	// CreateMessage persists a message and returns it with its assigned id.
	CreateMessage(ctx context.Context, roomID, userID int64, body string) (ChatMessage, error)

	// AdvanceReadMarker moves the user's read marker for the room up to
	// messageID. It must be a no-op when messageID is not ahead of the
	// current marker; the marker never retreats.
	AdvanceReadMarker(ctx context.Context, userID, roomID, messageID int64) error
}

// SessionResolver validates an opaque session token. A nil user with a nil
// error means the token resolved to nothing (unknown or expired).
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*user.User, error)
}

// Sender delivers one encoded event to a single live connection. Send must not
// block indefinitely: implementations queue the payload and report failure when
// the connection cannot accept it.
type Sender interface {
	Send(data []byte) error
}
