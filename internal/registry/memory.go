package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
)

type roomSet struct {
	mu      sync.RWMutex
	members map[string]struct{}
	// dead is set once the set has emptied and is about to be dropped from the index.
	dead bool
}

// Memory is an in-process Registry. Connections live in a sync.Map keyed by connection id;
// each room keeps its own member set behind its own lock, so traffic in one room never
// waits on another.
type Memory struct {
	conns sync.Map // connectionID -> models.Connection

	mu    sync.Mutex // guards the rooms index only
	rooms map[string]*roomSet

	now func() time.Time
}

var _ Registry = (*Memory)(nil)

// NewMemory creates an empty in-memory registry.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		rooms: make(map[string]*roomSet),
		now:   o.now,
	}
}

func (m *Memory) Register(_ context.Context, connectionID, userID, roomID string, ttl time.Duration) (models.Connection, error) {
	if ttl <= 0 {
		return models.Connection{}, apperr.ErrInvalidArgument
	}

	now := m.now()
	c := models.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		RoomID:       roomID,
		ExpiresAt:    now.Add(ttl),
	}

	for {
		prev, loaded := m.conns.LoadOrStore(connectionID, c)
		if !loaded {
			break
		}
		old := prev.(models.Connection)
		if !old.Expired(now) {
			return models.Connection{}, apperr.ErrDuplicateConnection
		}
		// An expired entry is absent for every reader, so it may be replaced.
		if m.conns.CompareAndSwap(connectionID, old, c) {
			m.removeMember(old.RoomID, connectionID)
			break
		}
	}

	m.addMember(roomID, connectionID)
	return c, nil
}

func (m *Memory) Unregister(_ context.Context, connectionID string) error {
	v, loaded := m.conns.LoadAndDelete(connectionID)
	if !loaded {
		return apperr.ErrNotFound
	}
	c := v.(models.Connection)
	m.removeMember(c.RoomID, connectionID)
	if c.Expired(m.now()) {
		return apperr.ErrNotFound
	}
	return nil
}

func (m *Memory) Lookup(_ context.Context, connectionID string) (models.Connection, error) {
	v, ok := m.conns.Load(connectionID)
	if !ok {
		return models.Connection{}, apperr.ErrNotFound
	}
	c := v.(models.Connection)
	if c.Expired(m.now()) {
		return models.Connection{}, apperr.ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListByRoom(_ context.Context, roomID string) ([]models.Connection, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return []models.Connection{}, nil
	}

	r.mu.RLock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	now := m.now()
	out := make([]models.Connection, 0, len(ids))
	for _, id := range ids {
		v, ok := m.conns.Load(id)
		if !ok {
			continue
		}
		c := v.(models.Connection)
		if c.RoomID != roomID || c.Expired(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

func (m *Memory) Reclaim(_ context.Context) ([]models.Connection, error) {
	now := m.now()
	var reclaimed []models.Connection

	m.conns.Range(func(key, value any) bool {
		c := value.(models.Connection)
		if c.Expired(now) && m.conns.CompareAndDelete(key, value) {
			m.removeMember(c.RoomID, c.ConnectionID)
			reclaimed = append(reclaimed, c)
		}
		return true
	})

	m.pruneDangling()
	return reclaimed, nil
}

// Stats returns the number of non-empty rooms and stored connections.
func (m *Memory) Stats() (rooms, connections int) {
	m.mu.Lock()
	rooms = len(m.rooms)
	m.mu.Unlock()

	m.conns.Range(func(_, _ any) bool {
		connections++
		return true
	})
	return rooms, connections
}

func (m *Memory) room(roomID string) *roomSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		r = &roomSet{members: make(map[string]struct{})}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) addMember(roomID, connectionID string) {
	for {
		r := m.room(roomID)
		r.mu.Lock()
		if r.dead {
			// lost the race with the last member leaving; the index entry is going away
			r.mu.Unlock()
			continue
		}
		r.members[connectionID] = struct{}{}
		r.mu.Unlock()
		return
	}
}

func (m *Memory) removeMember(roomID, connectionID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.members, connectionID)
	empty := len(r.members) == 0 && !r.dead
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		if m.rooms[roomID] == r {
			delete(m.rooms, roomID)
		}
		m.mu.Unlock()
	}
}

// pruneDangling drops member ids whose connection record is gone or now points at another
// room. They can be left behind when an unregister races a register of the same id.
func (m *Memory) pruneDangling() {
	m.mu.Lock()
	roomIDs := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		roomIDs = append(roomIDs, id)
	}
	m.mu.Unlock()

	for _, roomID := range roomIDs {
		m.mu.Lock()
		r, ok := m.rooms[roomID]
		m.mu.Unlock()
		if !ok {
			continue
		}

		r.mu.Lock()
		for id := range r.members {
			v, ok := m.conns.Load(id)
			if !ok || v.(models.Connection).RoomID != roomID {
				delete(r.members, id)
			}
		}
		empty := len(r.members) == 0 && !r.dead
		if empty {
			r.dead = true
		}
		r.mu.Unlock()

		if empty {
			m.mu.Lock()
			if m.rooms[roomID] == r {
				delete(m.rooms, roomID)
			}
			m.mu.Unlock()
		}
	}
}
