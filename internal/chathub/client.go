package chathub

import "roomrelay/backend/internal/models"

// Client is one transport link held by this process (e.g. a WebSocket).
// The Hub addresses clients only by connection id.
type Client interface {
	// GetConnectionID returns the server-assigned id of the link.
	GetConnectionID() string
	// GetUserID returns the identity the link authenticated as.
	GetUserID() string
	// GetRoomID returns the room the link asked to join.
	GetRoomID() string

	// GetSendChannel returns the outbound queue drained by the write side of the link.
	// Only the Hub writes to it, and never after Close.
	GetSendChannel() chan<- models.Delivery

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the outbound queue, which ends the link. Safe to call more than once.
	Close()
}
