package models

import "time"

// Connection is one live logical link: who owns it, which room it is scoped to and
// when it becomes reclaimable. All fields are fixed at join time.
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	RoomID       string    `json:"room_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent at now.
func (c Connection) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
