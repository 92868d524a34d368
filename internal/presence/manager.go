// Package presence owns the join/leave lifecycle of connections on top of the registry and
// turns definitive delivery failures and expiry into the same cleanup as an explicit leave.
package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/registry"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a connection stays registered without an explicit leave.
const DefaultTTL = 3 * time.Hour

// Manager registers and purges connections.
type Manager struct {
	Registry registry.Registry
	TTL      time.Duration
}

// NewManager creates a Manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(reg registry.Registry, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{Registry: reg, TTL: ttl}
}

// Join registers the connection in roomID for userID.
func (m *Manager) Join(ctx context.Context, connectionID, userID, roomID string) (models.Connection, error) {
	if strings.TrimSpace(connectionID) == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(roomID) == "" {
		return models.Connection{}, apperr.ErrInvalidArgument
	}

	c, err := m.Registry.Register(ctx, connectionID, userID, roomID, m.TTL)
	if err != nil {
		log.Warn().Err(err).Str("connectionID", connectionID).Str("userID", userID).Str("roomID", roomID).Msg("presence: join rejected")
		return models.Connection{}, err
	}

	log.Info().Str("connectionID", connectionID).Str("userID", userID).Str("roomID", roomID).Time("expiresAt", c.ExpiresAt).Msg("presence: joined")
	return c, nil
}

// Leave removes the connection. Leaving twice or leaving an unknown connection is fine;
// only a registry outage is reported.
func (m *Manager) Leave(ctx context.Context, connectionID string) error {
	err := m.Registry.Unregister(ctx, connectionID)
	switch {
	case err == nil:
		log.Info().Str("connectionID", connectionID).Msg("presence: left")
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		log.Debug().Str("connectionID", connectionID).Msg("presence: leave for unknown connection")
		return nil
	default:
		log.Error().Err(err).Str("connectionID", connectionID).Msg("presence: leave failed")
		return err
	}
}

// MarkUnreachable purges a connection whose peer is definitively gone.
// Only peer-gone delivery failures may lead here; transient ones must not.
func (m *Manager) MarkUnreachable(ctx context.Context, connectionID string) {
	log.Info().Str("connectionID", connectionID).Msg("presence: peer unreachable, purging")
	if err := m.Leave(ctx, connectionID); err != nil {
		log.Error().Err(err).Str("connectionID", connectionID).Msg("presence: purge of unreachable peer failed")
	}
}

// Sweep reclaims every expired registry entry once.
func (m *Manager) Sweep(ctx context.Context) ([]models.Connection, error) {
	reclaimed, err := m.Registry.Reclaim(ctx)
	if err != nil {
		return reclaimed, err
	}
	if len(reclaimed) > 0 {
		log.Info().Int("count", len(reclaimed)).Msg("presence: reclaimed expired connections")
	}
	return reclaimed, nil
}

// RunSweeper calls Sweep every interval until ctx is done. onReclaim, if set, is called for
// each reclaimed connection so the transport can close the stale link.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration, onReclaim func(models.Connection)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("presence: sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("presence: sweeper stopped")
			return
		case <-ticker.C:
			reclaimed, err := m.Sweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("presence: sweep failed")
			}
			if onReclaim == nil {
				continue
			}
			for _, c := range reclaimed {
				onReclaim(c)
			}
		}
	}
}
