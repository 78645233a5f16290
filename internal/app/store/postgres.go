/*
Package store provides the PostgreSQL persistence collaborator behind the chat
engine: users, sessions, chatrooms, memberships (with read markers), and
messages. Message ids come from a sequence, so they increase monotonically and
give every room a total order.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"buzzline/internal/app/chat"
	"buzzline/internal/app/user"
	"buzzline/internal/pkg/randx"
)

// SessionLifetime is how long a minted session token stays valid.
const SessionLifetime = 7 * 24 * time.Hour

// ErrUserNotFound is returned when a referenced user account does not exist.
var ErrUserNotFound = errors.New("store: user not found")

// Postgres implements the chat engine's Store and SessionResolver contracts
// over a pgx connection pool. The pool performs its own serialization; the
// type is safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an initialized connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// IsMember reports whether the user holds a membership in the room.
func (p *Postgres) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id = $1 AND room_id = $2)`,
		userID, roomID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return exists, nil
}

// RoomMembers returns the ids of every user with a membership in the room.
func (p *Postgres) RoomMembers(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id FROM memberships WHERE room_id = $1`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query room members: %w", err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// CreateMessage persists a message and returns it with its assigned id and
// timestamp.
func (p *Postgres) CreateMessage(ctx context.Context, roomID, userID int64, body string) (chat.ChatMessage, error) {
	var msg chat.ChatMessage
	err := p.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, user_id, content)
		 VALUES ($1, $2, $3)
		 RETURNING id, room_id, user_id, content, created_at`,
		roomID, userID, body,
	).Scan(&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Body, &msg.CreatedAt)
	if err != nil {
		return chat.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// AdvanceReadMarker moves the user's read marker for the room forward to
// messageID. The WHERE clause makes a stale or duplicate advance a no-op; the
// marker never retreats.
func (p *Postgres) AdvanceReadMarker(ctx context.Context, userID, roomID, messageID int64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE memberships
		 SET last_read_message_id = $3
		 WHERE user_id = $1 AND room_id = $2 AND last_read_message_id < $3`,
		userID, roomID, messageID,
	)
	if err != nil {
		return fmt.Errorf("advance read marker: %w", err)
	}
	return nil
}

// Resolve maps an opaque session token to the user identity snapshot, or nil
// when the token is unknown, malformed, or expired.
func (p *Postgres) Resolve(ctx context.Context, token string) (*user.User, error) {
	if !randx.IsValidSessionToken(token) {
		return nil, nil
	}

	var u user.User
	err := p.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.avatar_url
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1 AND s.expires_at > now()`,
		token,
	).Scan(&u.ID, &u.Username, &u.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return &u, nil
}

// CreateSession mints an opaque session token for the user. Used by the
// development token endpoint; the production login flow lives outside this
// service and writes the same table.
func (p *Postgres) CreateSession(ctx context.Context, userID int64) (string, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	if !exists {
		return "", ErrUserNotFound
	}

	token := randx.SessionToken()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		token, userID, time.Now().Add(SessionLifetime),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return token, nil
}
