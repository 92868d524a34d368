package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryEntry is one persisted chat message of a room.
// Entries are append-only: they are created once per accepted send and never updated.
type HistoryEntry struct {
	// ID is the storage primary key. It carries no ordering meaning across rooms.
	ID uint `gorm:"primaryKey" json:"-"`
	// MessageID is a UUID clients can use to drop duplicate deliveries.
	MessageID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"message_id"`
	// RoomID is the room the message was sent to.
	RoomID string `gorm:"type:varchar(255);not null;uniqueIndex:idx_room_sequence,priority:1" json:"room_id"`
	// Sequence is the per-room ordering key, starting at 1.
	Sequence int64 `gorm:"not null;uniqueIndex:idx_room_sequence,priority:2" json:"sequence"`
	// SenderUserID is the identity of the sending principal.
	SenderUserID string `gorm:"type:varchar(255);not null;index" json:"sender_user_id"`
	// Body is the message text.
	Body string `gorm:"type:text;not null" json:"body"`
	// RecordedAt is when the store accepted the entry.
	RecordedAt time.Time `gorm:"not null" json:"recorded_at"`
}

// TableName keeps the table name stable regardless of the struct name.
func (HistoryEntry) TableName() string {
	return "room_history"
}

// BeforeCreate is a GORM hook that assigns a MessageID if one is not set yet.
func (e *HistoryEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.MessageID == "" {
		e.MessageID = uuid.New().String()
	}
	return
}
