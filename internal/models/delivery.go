package models

import (
	"encoding/json"
	"time"
)

// Delivery kinds.
const (
	KindNewMessage = "new_message"
	KindHistory    = "history"
	KindError      = "error"
)

// Delivery is the envelope pushed to one connection.
type Delivery struct {
	Kind    string          `json:"kind"`
	Message *MessagePayload `json:"message,omitempty"`
	History []HistoryEntry  `json:"history,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MarshalJSON always emits the history list of a history delivery, even when the room is empty.
func (d Delivery) MarshalJSON() ([]byte, error) {
	type plain Delivery
	if d.Kind != KindHistory {
		return json.Marshal(plain(d))
	}
	history := d.History
	if history == nil {
		history = []HistoryEntry{}
	}
	return json.Marshal(struct {
		plain
		History []HistoryEntry `json:"history"`
	}{plain(d), history})
}

// MessagePayload is the body of a new_message delivery.
type MessagePayload struct {
	MessageID          string    `json:"message_id"`
	RoomID             string    `json:"room_id"`
	Sequence           int64     `json:"sequence"`
	Body               string    `json:"body"`
	SenderUserID       string    `json:"sender_user_id"`
	SenderConnectionID string    `json:"sender_connection_id"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// NewMessageDelivery builds the new_message delivery for a persisted entry.
func NewMessageDelivery(entry HistoryEntry, senderConnectionID string) Delivery {
	return Delivery{
		Kind: KindNewMessage,
		Message: &MessagePayload{
			MessageID:          entry.MessageID,
			RoomID:             entry.RoomID,
			Sequence:           entry.Sequence,
			Body:               entry.Body,
			SenderUserID:       entry.SenderUserID,
			SenderConnectionID: senderConnectionID,
			RecordedAt:         entry.RecordedAt,
		},
	}
}

// HistoryDelivery builds the history delivery. An empty room yields an empty, non-nil list.
func HistoryDelivery(entries []HistoryEntry) Delivery {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return Delivery{Kind: KindHistory, History: entries}
}

// Inbound actions accepted over the wire.
const (
	ActionSendMessage = "sendmessage"
	ActionHistory     = "history"
	ActionLeave       = "leave"
)

// InboundFrame is one client request: {"action":"sendmessage","data":{"message":"hi"}}.
type InboundFrame struct {
	Action string `json:"action"`
	Data   struct {
		Message string `json:"message"`
	} `json:"data"`
}
