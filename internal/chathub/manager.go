package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	errNotHeld    = errors.New("connection not held by this node")
	errQueueFull  = errors.New("outbound queue full")
	errNoListener = errors.New("no subscriber for connection")
)

// Deliverer pushes one delivery to one connection. A failure is either tagged as peer-gone
// (apperr.IsPeerGone) or treated as transient.
type Deliverer interface {
	Deliver(ctx context.Context, connectionID string, d models.Delivery) error
}

// Hub holds the clients connected to this process and delivers to them by connection id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client

	// set by ListenRedis
	redis  *redis.Client
	prefix string
	subs   map[string]*redis.PubSub
}

var _ Deliverer = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]Client),
		subs:    make(map[string]*redis.PubSub),
	}
}

// ListenRedis makes every attached client reachable from other relay processes through
// its Redis delivery channel. Call it before the first Attach.
func (h *Hub) ListenRedis(rdb *redis.Client, prefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = rdb
	h.prefix = prefix
}

// Attach starts routing deliveries for c.ConnectionID to c.
func (h *Hub) Attach(ctx context.Context, c Client) error {
	id := c.GetConnectionID()

	h.mu.Lock()
	if _, ok := h.clients[id]; ok {
		h.mu.Unlock()
		return apperr.ErrDuplicateConnection
	}
	h.clients[id] = c
	rdb, prefix := h.redis, h.prefix
	h.mu.Unlock()

	if rdb == nil {
		log.Debug().Str("connectionID", id).Msg("hub: client attached")
		return nil
	}

	ps := rdb.Subscribe(ctx, DeliveryChannel(prefix, id))
	// wait for the subscription to be confirmed so that publishes right after Attach
	// are not reported as peer-gone
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		return apperr.StorageUnavailable("hub subscribe", err)
	}

	h.mu.Lock()
	h.subs[id] = ps
	h.mu.Unlock()

	go h.forward(id, ps)
	log.Debug().Str("connectionID", id).Msg("hub: client attached with redis listener")
	return nil
}

func (h *Hub) forward(id string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var d models.Delivery
		if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
			log.Error().Err(err).Str("connectionID", id).Msg("hub: bad delivery payload from redis")
			continue
		}
		if err := h.Deliver(context.Background(), id, d); err != nil {
			log.Warn().Err(err).Str("connectionID", id).Msg("hub: relayed delivery dropped")
		}
	}
}

// Detach stops routing to the connection and closes its client. Unknown ids are ignored.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	c, ok := h.clients[connectionID]
	delete(h.clients, connectionID)
	ps := h.subs[connectionID]
	delete(h.subs, connectionID)
	h.mu.Unlock()

	if ps != nil {
		if err := ps.Close(); err != nil {
			log.Warn().Err(err).Str("connectionID", connectionID).Msg("hub: closing redis listener")
		}
	}
	if ok {
		c.Close()
		log.Debug().Str("connectionID", connectionID).Msg("hub: client detached")
	}
}

// Disconnect closes the link of a connection the registry no longer knows, e.g. after
// the presence sweeper reclaimed it.
func (h *Hub) Disconnect(c models.Connection) {
	h.Detach(c.ConnectionID)
}

// Deliver queues d on the local client. A connection this hub does not hold is gone;
// a full queue is a transient failure.
func (h *Hub) Deliver(_ context.Context, connectionID string, d models.Delivery) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connectionID]
	if !ok {
		return apperr.PeerGone(connectionID, errNotHeld)
	}

	select {
	case c.GetSendChannel() <- d:
		return nil
	default:
		return apperr.Transient(connectionID, errQueueFull)
	}
}

// Stats reports how many rooms and clients this process currently serves.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, c := range h.clients {
		seen[c.GetRoomID()] = struct{}{}
	}
	return len(seen), len(h.clients)
}

// Shutdown detaches every client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Detach(id)
	}
	log.Info().Int("clients", len(ids)).Msg("hub: shut down")
}
