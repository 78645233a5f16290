/*
Package chat contains the live connection and broadcast engine.

This file defines the per (user, room) cooldown tracker behind the buzz
attention ping. Cooldown state lives only in process memory and is lost on
restart; it is advisory, not a delivery guarantee.
*/
package chat

import (
	"sync"
	"time"
)

// DefaultBuzzCooldown is the reference cooldown window between buzzes from the
// same user in the same room.
const DefaultBuzzCooldown = 5000 * time.Millisecond

type buzzKey struct {
	userID int64
	roomID int64
}

// BuzzLimiter enforces a minimum interval between buzz events per (user, room).
type BuzzLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	lastFired map[buzzKey]time.Time

	// now is the clock; replaceable in tests.
	now func() time.Time
}

// NewBuzzLimiter creates a BuzzLimiter with the given cooldown window.
// A non-positive window falls back to DefaultBuzzCooldown.
func NewBuzzLimiter(window time.Duration) *BuzzLimiter {
	if window <= 0 {
		window = DefaultBuzzCooldown
	}

	return &BuzzLimiter{
		window:    window,
		lastFired: make(map[buzzKey]time.Time),
		now:       time.Now,
	}
}

// Try checks the cooldown for (userID, roomID) and arms it in the same
// critical section when clear. It returns true when the buzz may fire, or
// false with the remaining wait when the window has not elapsed.
func (b *BuzzLimiter) Try(userID, roomID int64) (bool, time.Duration) {
	key := buzzKey{userID: userID, roomID: roomID}
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastFired[key]; ok {
		if elapsed := now.Sub(last); elapsed < b.window {
			return false, b.window - elapsed
		}
	}

	b.lastFired[key] = now
	return true, 0
}
