/*
Package chat contains the live connection and broadcast engine.

This file defines the SubscriptionIndex, the bidirectional mapping between
connections and rooms and between users and their connections. A user may hold
several connections at once (tabs, devices), some subscribed to a room and some
not, which is why the user index is tracked independently of room membership.
*/
package chat

import "sync"

// SubscriptionIndex tracks which room each connection is viewing and which
// connections belong to each user. All transitions happen under one mutex so a
// concurrent broadcast can never observe a connection in two rooms, or in a
// room it has already left.
type SubscriptionIndex struct {
	mu sync.RWMutex

	// roomByConn maps a connection to the room it is subscribed to.
	// A connection subscribes to at most one room at a time.
	roomByConn map[ConnID]int64

	// connsByRoom maps a room to the set of connections subscribed to it.
	connsByRoom map[int64]map[ConnID]struct{}

	// userByConn maps a connection to its authenticated user.
	userByConn map[ConnID]int64

	// connsByUser maps a user to every live connection it holds, in a room
	// or not.
	connsByUser map[int64]map[ConnID]struct{}
}

// NewSubscriptionIndex creates an empty SubscriptionIndex.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		roomByConn:  make(map[ConnID]int64),
		connsByRoom: make(map[int64]map[ConnID]struct{}),
		userByConn:  make(map[ConnID]int64),
		connsByUser: make(map[int64]map[ConnID]struct{}),
	}
}

// TrackUser records the connection under its authenticated user. Re-tracking
// under a different user moves the connection, so the user index always equals
// the set of connections resolved to that identity.
func (s *SubscriptionIndex) TrackUser(id ConnID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.userByConn[id]; ok {
		if prev == userID {
			return
		}
		s.untrackUserLocked(id, prev)
	}

	s.userByConn[id] = userID
	if s.connsByUser[userID] == nil {
		s.connsByUser[userID] = make(map[ConnID]struct{})
	}
	s.connsByUser[userID][id] = struct{}{}
}

// Join subscribes the connection to the room, leaving any previous room first.
// Leave-then-join is one critical section: no concurrent reader can see the
// connection double-subscribed or the old entry outliving the new one.
func (s *SubscriptionIndex) Join(id ConnID, roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(id)

	s.roomByConn[id] = roomID
	if s.connsByRoom[roomID] == nil {
		s.connsByRoom[roomID] = make(map[ConnID]struct{})
	}
	s.connsByRoom[roomID][id] = struct{}{}
}

// Leave removes the connection from its current room. No-op when the
// connection is not subscribed anywhere.
func (s *SubscriptionIndex) Leave(id ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(id)
}

// RemoveConn erases every trace of the connection: its room subscription and
// its user index entry. Called on disconnect; tolerates partial state.
func (s *SubscriptionIndex) RemoveConn(id ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaveLocked(id)

	if userID, ok := s.userByConn[id]; ok {
		s.untrackUserLocked(id, userID)
	}
}

// RoomOf returns the room the connection is subscribed to, if any.
func (s *SubscriptionIndex) RoomOf(id ConnID) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roomID, ok := s.roomByConn[id]
	return roomID, ok
}

// RoomMembers returns a point-in-time copy of the room's subscriber set.
// Callers iterate the copy without holding the index lock.
func (s *SubscriptionIndex) RoomMembers(roomID int64) []ConnID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyConnSet(s.connsByRoom[roomID])
}

// UserConnections returns a point-in-time copy of every connection the user
// holds, regardless of room.
func (s *SubscriptionIndex) UserConnections(userID int64) []ConnID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyConnSet(s.connsByUser[userID])
}

// leaveLocked removes the connection from its room's set, pruning the set when
// it empties. Caller holds s.mu.
func (s *SubscriptionIndex) leaveLocked(id ConnID) {
	roomID, ok := s.roomByConn[id]
	if !ok {
		return
	}

	delete(s.roomByConn, id)

	if set := s.connsByRoom[roomID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.connsByRoom, roomID)
		}
	}
}

// untrackUserLocked removes the connection from the user index, pruning empty
// sets. Caller holds s.mu.
func (s *SubscriptionIndex) untrackUserLocked(id ConnID, userID int64) {
	delete(s.userByConn, id)

	if set := s.connsByUser[userID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.connsByUser, userID)
		}
	}
}

func copyConnSet(set map[ConnID]struct{}) []ConnID {
	if len(set) == 0 {
		return nil
	}

	out := make([]ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
