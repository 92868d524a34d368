package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// HistoryStore is the append-only per-room message log.
type HistoryStore interface {
	// Append assigns the next sequence of roomID and persists the entry.
	Append(ctx context.Context, roomID, senderUserID, body string) (models.HistoryEntry, error)
	// ReadAll returns the room's entries in ascending sequence order.
	// A room without history yields an empty slice, not an error.
	ReadAll(ctx context.Context, roomID string) ([]models.HistoryEntry, error)
}

// maxAppendAttempts bounds retries when another process takes the same sequence first.
const maxAppendAttempts = 5

// Service is the gorm-backed HistoryStore (PostgreSQL in production, SQLite locally).
type Service struct {
	DB *gorm.DB

	locks sync.Map // roomID -> *sync.Mutex
	now   func() time.Time
}

var _ HistoryStore = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{
		DB:  db,
		now: time.Now,
	}
}

// Migrate creates or updates the history table.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.HistoryEntry{})
}

func (s *Service) roomLock(roomID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(roomID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Append stores the message with sequence MAX(sequence)+1 for the room.
// Appends to one room are serialized in-process; the (room_id, sequence) unique index
// settles races with other processes, and the loser retries with a fresh sequence.
func (s *Service) Append(ctx context.Context, roomID, senderUserID, body string) (models.HistoryEntry, error) {
	l := s.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		entry := models.HistoryEntry{
			RoomID:       roomID,
			SenderUserID: senderUserID,
			Body:         body,
		}

		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last int64
			if err := tx.Model(&models.HistoryEntry{}).
				Where("room_id = ?", roomID).
				Select("COALESCE(MAX(sequence), 0)").
				Scan(&last).Error; err != nil {
				return err
			}

			entry.Sequence = last + 1
			entry.RecordedAt = s.now().UTC()
			return tx.Create(&entry).Error
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Error().Err(err).Str("roomID", roomID).Msg("storage: failed to append history entry")
			return models.HistoryEntry{}, apperr.StorageUnavailable("history append", err)
		}
		lastErr = err
	}

	log.Error().Err(lastErr).Str("roomID", roomID).Int("attempts", maxAppendAttempts).Msg("storage: sequence contention did not settle")
	return models.HistoryEntry{}, apperr.StorageUnavailable("history append", lastErr)
}

// ReadAll loads the room's history ordered by sequence.
func (s *Service) ReadAll(ctx context.Context, roomID string) ([]models.HistoryEntry, error) {
	history := []models.HistoryEntry{}
	if err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sequence asc").
		Find(&history).Error; err != nil {
		log.Error().Err(err).Str("roomID", roomID).Msg("storage: failed to read history")
		return nil, apperr.StorageUnavailable("history read", err)
	}
	return history, nil
}

// CountByRoom returns the number of entries stored for roomID.
func (s *Service) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.HistoryEntry{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, apperr.StorageUnavailable("history count", err)
	}
	return n, nil
}
