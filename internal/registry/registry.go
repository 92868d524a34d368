// Package registry tracks which logical connections exist and which user and room each
// belongs to. It is the single source of truth for room membership: every room-scoped
// lookup in the relay goes through ListByRoom.
//
// Expiry is advisory. An entry past its ExpiresAt is reported as absent by every read even
// if it is still physically stored; Reclaim removes such entries for good.
package registry

import (
	"context"
	"time"

	"roomrelay/backend/internal/models"
)

// Registry is the connection registry contract. Implementations must be safe for
// concurrent use and must never return a partially constructed entry.
type Registry interface {
	// Register inserts a new connection that expires after ttl.
	// It fails with apperr.ErrDuplicateConnection if a live entry already uses connectionID.
	Register(ctx context.Context, connectionID, userID, roomID string, ttl time.Duration) (models.Connection, error)
	// Unregister removes the entry. apperr.ErrNotFound means it was already gone.
	Unregister(ctx context.Context, connectionID string) error
	// Lookup returns the live entry for connectionID or apperr.ErrNotFound.
	Lookup(ctx context.Context, connectionID string) (models.Connection, error)
	// ListByRoom returns a point-in-time snapshot of the live members of roomID.
	ListByRoom(ctx context.Context, roomID string) ([]models.Connection, error)
	// Reclaim physically removes expired entries and returns them.
	Reclaim(ctx context.Context) ([]models.Connection, error)
}

type options struct {
	now    func() time.Time
	prefix string
}

// Option configures a registry implementation.
type Option func(*options)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithKeyPrefix sets the Redis key prefix. Ignored by the in-memory registry.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, prefix: "relay:"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
