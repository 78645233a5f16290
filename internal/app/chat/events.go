/*
Package chat contains the live connection and broadcast engine.

This file defines the JSON event schema exchanged over each connection: one
inbound envelope covering every client event type, and one struct per outbound
event.
*/
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Inbound event types.
const (
	EventAuth    = "auth"
	EventJoin    = "join"
	EventMessage = "message"
	EventTyping  = "typing"
	EventBuzz    = "buzz"
)

// Outbound event types.
const (
	EventAuthSuccess  = "auth_success"
	EventAuthFailed   = "auth_failed"
	EventJoined       = "joined"
	EventJoinFailed   = "join_failed"
	EventRoomUpdate   = "room_update"
	EventBuzzCooldown = "buzz_cooldown"
)

// FlexID is a numeric identifier that unmarshals from either a JSON number or
// a numeric string, because clients send roomId in both shapes.
type FlexID int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("flex id: %q is not numeric", s)
		}
		*f = FlexID(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n)
	return nil
}

// InboundEvent is the envelope for every event a client sends. Which fields
// are meaningful depends on Type; unexpected fields are ignored.
type InboundEvent struct {
	Type         string `json:"type"`
	SessionToken string `json:"sessionToken,omitempty"`
	RoomID       FlexID `json:"roomId,omitempty"`
	Content      string `json:"content,omitempty"`
}

// typeOnlyEvent covers the outbound events that carry nothing but their type.
type typeOnlyEvent struct {
	Type string `json:"type"`
}

type joinedEvent struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}

type joinFailedEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// MessagePayload is the full message body delivered to connections subscribed
// to the room. Author display fields are denormalized from the sending
// connection's cached identity.
type MessagePayload struct {
	ChatMessage
	AuthorName   string `json:"authorName"`
	AuthorAvatar string `json:"authorAvatar,omitempty"`
}

type messageEvent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// roomUpdateEvent is the lightweight summary delivered to members who are
// connected but not currently viewing the room.
type roomUpdateEvent struct {
	Type               string `json:"type"`
	RoomID             int64  `json:"roomId"`
	LastMessagePreview string `json:"lastMessagePreview"`
	LastMessageTime    string `json:"lastMessageTime"`
	FromUserID         int64  `json:"fromUserId"`
}

type typingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type buzzEvent struct {
	Type       string `json:"type"`
	Username   string `json:"username"`
	FromUserID int64  `json:"fromUserId"`
}

type buzzCooldownEvent struct {
	Type        string `json:"type"`
	RemainingMs int64  `json:"remainingMs"`
}
