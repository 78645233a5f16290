/*
Package chat contains the live connection and broadcast engine.

This file defines the ConnectionRegistry, the owner of every live connection
and its per-connection session state. Connection ids come from a process-wide
counter and are never reused, so a stale id held by a concurrent broadcast
simply resolves to nothing.
*/
package chat

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"buzzline/internal/app/user"
	"buzzline/internal/pkg/logx"
)

// ConnID identifies one live connection for its lifetime.
type ConnID uint64

// ConnState is the authentication state of a connection.
type ConnState int

const (
	// StateUnauthenticated is the state of a freshly admitted connection.
	StateUnauthenticated ConnState = iota

	// StateAuthenticated means the connection carries a resolved identity.
	StateAuthenticated
)

// Connection is the registry's record for one live transport. The identity is
// the snapshot captured at authentication time and is never re-fetched.
type Connection struct {
	id       ConnID
	state    ConnState
	identity *user.User
	sender   Sender
}

// ConnectionRegistry owns the set of live connections. It resolves session
// tokens through the SessionResolver and keeps the user index in step with
// each connection's identity.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	conns    map[ConnID]*Connection
	nextID   atomic.Uint64
	resolver SessionResolver
	index    *SubscriptionIndex
	logger   zerolog.Logger
}

// NewConnectionRegistry creates a ConnectionRegistry backed by the given
// resolver and subscription index.
func NewConnectionRegistry(resolver SessionResolver, index *SubscriptionIndex) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:    make(map[ConnID]*Connection),
		resolver: resolver,
		index:    index,
		logger:   logx.Logger().With().Str("component", "ConnectionRegistry").Logger(),
	}
}

// Admit registers a new connection in the unauthenticated state and returns
// its id. Safe to call concurrently from independent accept paths.
func (r *ConnectionRegistry) Admit(sender Sender) ConnID {
	id := ConnID(r.nextID.Add(1))

	r.mu.Lock()
	r.conns[id] = &Connection{
		id:     id,
		state:  StateUnauthenticated,
		sender: sender,
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info().Uint64("conn_id", uint64(id)).Int("total_conns", total).Msg("Connection admitted")
	return id
}

// Authenticate resolves the token and, on success, promotes the connection to
// the authenticated state, stores the identity snapshot, and registers the
// connection in the user index. Re-authentication is allowed and replaces the
// snapshot. On failure the connection state is left unchanged; the caller
// forwards the failure to the client, which may retry.
//
// The returned identity is nil when the token resolved to nothing. Operations
// on an unknown connection id are no-ops.
func (r *ConnectionRegistry) Authenticate(ctx context.Context, id ConnID, token string) (*user.User, error) {
	identity, err := r.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		// Removed concurrently; the identity is discarded.
		r.mu.Unlock()
		return nil, nil
	}
	conn.state = StateAuthenticated
	conn.identity = identity
	r.mu.Unlock()

	r.index.TrackUser(id, identity.ID)

	r.logger.Info().
		Uint64("conn_id", uint64(id)).
		Int64("user_id", identity.ID).
		Str("username", identity.Username).
		Msg("Connection authenticated")

	return identity, nil
}

// Remove tears the connection down: registry entry, room subscription, and
// user index entry. Idempotent, and tolerates partially inconsistent state.
func (r *ConnectionRegistry) Remove(id ConnID) {
	r.index.RemoveConn(id)

	r.mu.Lock()
	_, existed := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	if existed {
		r.logger.Info().Uint64("conn_id", uint64(id)).Int("total_conns", total).Msg("Connection removed")
	}
}

// Identity returns the connection's identity snapshot, or nil when the
// connection is unknown or unauthenticated.
func (r *ConnectionRegistry) Identity(id ConnID) *user.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	return conn.identity
}

// Sender returns the send handle for the connection, if it is still live.
func (r *ConnectionRegistry) Sender(id ConnID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return conn.sender, true
}

// State returns the connection's authentication state. Unknown connections
// report StateUnauthenticated.
func (r *ConnectionRegistry) State(id ConnID) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return StateUnauthenticated
	}
	return conn.state
}

// deliveryTarget couples a connection's send handle with its identity for a
// fan-out pass that must not hold the registry lock during I/O.
type deliveryTarget struct {
	id       ConnID
	sender   Sender
	identity *user.User
}

// targets resolves the given connection ids into delivery targets under one
// read lock. Ids that no longer exist are skipped; the copy lets callers do
// network sends without stalling unrelated registry traffic.
func (r *ConnectionRegistry) targets(ids []ConnID) []deliveryTarget {
	if len(ids) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]deliveryTarget, 0, len(ids))
	for _, id := range ids {
		conn, ok := r.conns[id]
		if !ok {
			continue
		}
		out = append(out, deliveryTarget{id: id, sender: conn.sender, identity: conn.identity})
	}
	return out
}
