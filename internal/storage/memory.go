package storage

import (
	"context"
	"sync"
	"time"

	"roomrelay/backend/internal/models"

	"github.com/google/uuid"
)

type roomLog struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
}

// Memory is a process-local HistoryStore. History is lost on restart.
type Memory struct {
	rooms sync.Map // roomID -> *roomLog
	now   func() time.Time
}

var _ HistoryStore = (*Memory)(nil)

// NewMemory creates an empty in-memory history store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) logFor(roomID string) *roomLog {
	l, _ := m.rooms.LoadOrStore(roomID, &roomLog{})
	return l.(*roomLog)
}

func (m *Memory) Append(_ context.Context, roomID, senderUserID, body string) (models.HistoryEntry, error) {
	l := m.logFor(roomID)
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := models.HistoryEntry{
		MessageID:    uuid.New().String(),
		RoomID:       roomID,
		Sequence:     int64(len(l.entries) + 1),
		SenderUserID: senderUserID,
		Body:         body,
		RecordedAt:   m.now().UTC(),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (m *Memory) ReadAll(_ context.Context, roomID string) ([]models.HistoryEntry, error) {
	v, ok := m.rooms.Load(roomID)
	if !ok {
		return []models.HistoryEntry{}, nil
	}
	l := v.(*roomLog)

	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}
