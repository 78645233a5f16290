/*
Package randx generates opaque identifiers used by the persistence layer.
*/
package randx

import (
	"regexp"

	"github.com/google/uuid"
)

var sessionTokenRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SessionToken generates an opaque session token. Tokens are random UUIDv4
// strings; they carry no user information and are only meaningful to the
// sessions table.
func SessionToken() string {
	return uuid.NewString()
}

// IsValidSessionToken reports whether the given string has the shape of a
// session token. It says nothing about whether the session exists or is live.
func IsValidSessionToken(token string) bool {
	return sessionTokenRegex.MatchString(token)
}
