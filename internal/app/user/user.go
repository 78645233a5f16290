/*
Package user contains the identity snapshot attached to authenticated connections.
*/
package user

// User is the immutable identity snapshot captured when a connection
// authenticates. It is not re-fetched per event; a connection keeps the
// snapshot it authenticated with for its whole lifetime.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id"`

	// Username is the display name shown to other participants.
	Username string `json:"username"`

	// AvatarURL points at the user's avatar image.
	AvatarURL string `json:"avatar_url,omitempty"`
}
