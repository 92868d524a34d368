package registry_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by a registry under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness builds a fresh registry plus a way to move its notion of time forward.
type harness func(t *testing.T) (registry.Registry, func(time.Duration))

func ids(conns []models.Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ConnectionID)
	}
	return out
}

// runContract exercises the Registry contract against one implementation.
func runContract(t *testing.T, newRegistry harness) {
	ctx := context.Background()

	t.Run("register then lookup", func(t *testing.T) {
		reg, _ := newRegistry(t)

		c, err := reg.Register(ctx, "c1", "alice", "lobby", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "alice", c.UserID)
		assert.Equal(t, "lobby", c.RoomID)

		got, err := reg.Lookup(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ConnectionID)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, "lobby", got.RoomID)
		assert.True(t, got.ExpiresAt.Equal(c.ExpiresAt))
	})

	t.Run("duplicate is detected not overwritten", func(t *testing.T) {
		reg, _ := newRegistry(t)

		_, err := reg.Register(ctx, "c1", "alice", "lobby", time.Hour)
		require.NoError(t, err)

		_, err = reg.Register(ctx, "c1", "mallory", "vault", time.Hour)
		assert.ErrorIs(t, err, apperr.ErrDuplicateConnection)

		got, err := reg.Lookup(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, "lobby", got.RoomID)

		members, err := reg.ListByRoom(ctx, "vault")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("non-positive ttl is rejected", func(t *testing.T) {
		reg, _ := newRegistry(t)

		_, err := reg.Register(ctx, "c1", "alice", "lobby", 0)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("unregister is idempotent", func(t *testing.T) {
		reg, _ := newRegistry(t)

		_, err := reg.Register(ctx, "c1", "alice", "lobby", time.Hour)
		require.NoError(t, err)

		assert.NoError(t, reg.Unregister(ctx, "c1"))
		assert.ErrorIs(t, reg.Unregister(ctx, "c1"), apperr.ErrNotFound)
		assert.ErrorIs(t, reg.Unregister(ctx, "never-seen"), apperr.ErrNotFound)

		_, err = reg.Lookup(ctx, "c1")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("list by room is scoped", func(t *testing.T) {
		reg, _ := newRegistry(t)

		for _, c := range []struct{ id, user, room string }{
			{"a", "alice", "lobby"},
			{"b", "bob", "lobby"},
			{"c", "carol", "kitchen"},
		} {
			_, err := reg.Register(ctx, c.id, c.user, c.room, time.Hour)
			require.NoError(t, err)
		}

		lobby, err := reg.ListByRoom(ctx, "lobby")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, ids(lobby))

		kitchen, err := reg.ListByRoom(ctx, "kitchen")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c"}, ids(kitchen))

		empty, err := reg.ListByRoom(ctx, "nowhere")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("unregistered connection leaves the room snapshot", func(t *testing.T) {
		reg, _ := newRegistry(t)

		_, err := reg.Register(ctx, "a", "alice", "lobby", time.Hour)
		require.NoError(t, err)
		_, err = reg.Register(ctx, "b", "bob", "lobby", time.Hour)
		require.NoError(t, err)

		require.NoError(t, reg.Unregister(ctx, "b"))

		lobby, err := reg.ListByRoom(ctx, "lobby")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(lobby))
	})

	t.Run("expired entries are absent before reclamation", func(t *testing.T) {
		reg, advance := newRegistry(t)

		_, err := reg.Register(ctx, "short", "alice", "lobby", time.Minute)
		require.NoError(t, err)
		_, err = reg.Register(ctx, "long", "bob", "lobby", time.Hour)
		require.NoError(t, err)

		advance(2 * time.Minute)

		_, err = reg.Lookup(ctx, "short")
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		lobby, err := reg.ListByRoom(ctx, "lobby")
		require.NoError(t, err)
		assert.Equal(t, []string{"long"}, ids(lobby))
	})

	t.Run("reclaim removes expired entries", func(t *testing.T) {
		reg, advance := newRegistry(t)

		_, err := reg.Register(ctx, "short", "alice", "lobby", time.Minute)
		require.NoError(t, err)
		_, err = reg.Register(ctx, "long", "bob", "lobby", time.Hour)
		require.NoError(t, err)

		advance(2 * time.Minute)

		reclaimed, err := reg.Reclaim(ctx)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		assert.Equal(t, "short", reclaimed[0].ConnectionID)
		assert.Equal(t, "lobby", reclaimed[0].RoomID)

		again, err := reg.Reclaim(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)

		_, err = reg.Lookup(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("expired id can be registered again", func(t *testing.T) {
		reg, advance := newRegistry(t)

		_, err := reg.Register(ctx, "c1", "alice", "lobby", time.Minute)
		require.NoError(t, err)

		advance(2 * time.Minute)

		_, err = reg.Register(ctx, "c1", "alice", "kitchen", time.Hour)
		require.NoError(t, err)

		got, err := reg.Lookup(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "kitchen", got.RoomID)

		lobby, err := reg.ListByRoom(ctx, "lobby")
		require.NoError(t, err)
		assert.Empty(t, lobby)
	})

	t.Run("concurrent register and unregister keep membership consistent", func(t *testing.T) {
		reg, _ := newRegistry(t)

		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("c%02d", i)
				room := []string{"lobby", "kitchen"}[i%2]
				if _, err := reg.Register(ctx, id, "user", room, time.Hour); err != nil {
					t.Errorf("register %s: %v", id, err)
					return
				}
				// list while others mutate; must never fail or return foreign rooms
				members, err := reg.ListByRoom(ctx, room)
				if err != nil {
					t.Errorf("list %s: %v", room, err)
					return
				}
				for _, m := range members {
					if m.RoomID != room {
						t.Errorf("snapshot of %s contains %s from %s", room, m.ConnectionID, m.RoomID)
					}
				}
				if i%3 == 0 {
					if err := reg.Unregister(ctx, id); err != nil {
						t.Errorf("unregister %s: %v", id, err)
					}
				}
			}(i)
		}
		wg.Wait()

		lobby, err := reg.ListByRoom(ctx, "lobby")
		require.NoError(t, err)
		kitchen, err := reg.ListByRoom(ctx, "kitchen")
		require.NoError(t, err)

		removed := 0
		for i := 0; i < n; i++ {
			if i%3 == 0 {
				removed++
			}
		}
		assert.Len(t, append(lobby, kitchen...), n-removed)
	})
}
