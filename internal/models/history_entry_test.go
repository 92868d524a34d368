package models_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"roomrelay/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHistoryEntryBeforeCreate_GeneratesMessageID verifies that the hook assigns a valid UUID.
func TestHistoryEntryBeforeCreate_GeneratesMessageID(t *testing.T) {
	entry := &models.HistoryEntry{RoomID: "lobby", Sequence: 1, SenderUserID: "u1", Body: "hi"}

	assert.Empty(t, entry.MessageID)

	// nil *gorm.DB is fine, the hook never touches it
	err := entry.BeforeCreate(nil)

	assert.NoError(t, err)
	parsed, parseErr := uuid.Parse(entry.MessageID)
	assert.NoError(t, parseErr, "MessageID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsed)
}

// TestHistoryEntryBeforeCreate_PreservesExistingID verifies the hook does not overwrite a set id.
func TestHistoryEntryBeforeCreate_PreservesExistingID(t *testing.T) {
	existing := uuid.New().String()
	entry := &models.HistoryEntry{MessageID: existing}

	require.NoError(t, entry.BeforeCreate(nil))
	assert.Equal(t, existing, entry.MessageID)
}

// TestHistoryEntryStructTags guards the composite unique index that enforces per-room ordering.
func TestHistoryEntryStructTags(t *testing.T) {
	entryType := reflect.TypeOf(models.HistoryEntry{})

	room, found := entryType.FieldByName("RoomID")
	require.True(t, found)
	assert.Contains(t, room.Tag.Get("gorm"), "uniqueIndex:idx_room_sequence")

	seq, found := entryType.FieldByName("Sequence")
	require.True(t, found)
	assert.Contains(t, seq.Tag.Get("gorm"), "uniqueIndex:idx_room_sequence")

	assert.Equal(t, "room_history", models.HistoryEntry{}.TableName())
}

func TestConnectionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := models.Connection{ConnectionID: "c1", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, c.Expired(now))
		})
	}
}

func TestNewMessageDelivery(t *testing.T) {
	recorded := time.Now().UTC()
	entry := models.HistoryEntry{
		MessageID:    "m1",
		RoomID:       "lobby",
		Sequence:     7,
		SenderUserID: "alice",
		Body:         "hi",
		RecordedAt:   recorded,
	}

	d := models.NewMessageDelivery(entry, "conn-a")

	assert.Equal(t, models.KindNewMessage, d.Kind)
	require.NotNil(t, d.Message)
	assert.Equal(t, "hi", d.Message.Body)
	assert.Equal(t, "alice", d.Message.SenderUserID)
	assert.Equal(t, "conn-a", d.Message.SenderConnectionID)
	assert.Equal(t, int64(7), d.Message.Sequence)
}

func TestHistoryDelivery_EmptyRoom(t *testing.T) {
	d := models.HistoryDelivery(nil)

	assert.Equal(t, models.KindHistory, d.Kind)
	assert.NotNil(t, d.History)
	assert.Empty(t, d.History)
}

func TestInboundFrame_Decode(t *testing.T) {
	var frame models.InboundFrame
	err := json.Unmarshal([]byte(`{"action":"sendmessage","data":{"message":"hello"}}`), &frame)

	require.NoError(t, err)
	assert.Equal(t, models.ActionSendMessage, frame.Action)
	assert.Equal(t, "hello", frame.Data.Message)
}

func TestDelivery_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(models.HistoryDelivery(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"history","history":[]}`, string(raw), "an empty room still carries the list")

	raw, err = json.Marshal(models.Delivery{Kind: models.KindHistory})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"history":[]`)

	raw, err = json.Marshal(models.Delivery{Kind: models.KindError, Error: "access_denied"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"error","error":"access_denied"}`, string(raw))

	var back models.Delivery
	raw, err = json.Marshal(models.HistoryDelivery([]models.HistoryEntry{{RoomID: "lobby", Sequence: 1, Body: "hi"}}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back.History, 1)
	assert.Equal(t, "hi", back.History[0].Body)
}
