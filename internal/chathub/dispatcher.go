package chathub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/presence"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// EmptyMessageBody replaces an empty message body.
	EmptyMessageBody = "Empty message"

	DefaultMaxBodyBytes    = 4096
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultFanoutLimit     = 64
)

// Dispatcher persists room messages and fans them out to the room's members.
type Dispatcher struct {
	Registry     registry.Registry
	HistoryStore storage.HistoryStore
	Presence     *presence.Manager
	Deliverer    Deliverer

	MaxBodyBytes    int
	DeliveryTimeout time.Duration
	FanoutLimit     int
}

// NewDispatcher creates a Dispatcher with default limits.
func NewDispatcher(reg registry.Registry, history storage.HistoryStore, pres *presence.Manager, deliverer Deliverer) *Dispatcher {
	return &Dispatcher{
		Registry:        reg,
		HistoryStore:    history,
		Presence:        pres,
		Deliverer:       deliverer,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		DeliveryTimeout: DefaultDeliveryTimeout,
		FanoutLimit:     DefaultFanoutLimit,
	}
}

// resolveRoom maps the sender to its room. The room is never taken from client input.
func (d *Dispatcher) resolveRoom(ctx context.Context, connectionID string) (models.Connection, error) {
	c, err := d.Registry.Lookup(ctx, connectionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Connection{}, fmt.Errorf("connection %s: %w", connectionID, apperr.ErrAccessDenied)
	}
	return c, err
}

// Send persists body in the sender's room and delivers it to every member, sender included.
// It returns once every delivery attempt finished; per-recipient outcomes are not reported.
func (d *Dispatcher) Send(ctx context.Context, connectionID, body string) (models.HistoryEntry, error) {
	sender, err := d.resolveRoom(ctx, connectionID)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	if body == "" {
		body = EmptyMessageBody
	}
	if d.MaxBodyBytes > 0 && len(body) > d.MaxBodyBytes {
		return models.HistoryEntry{}, fmt.Errorf("body of %d bytes exceeds %d: %w", len(body), d.MaxBodyBytes, apperr.ErrInvalidArgument)
	}

	entry, err := d.HistoryStore.Append(ctx, sender.RoomID, sender.UserID, body)
	if err != nil {
		return models.HistoryEntry{}, err
	}

	// the message is accepted; caller cancellation no longer stops the fan-out
	fanCtx := context.WithoutCancel(ctx)

	members, err := d.Registry.ListByRoom(fanCtx, sender.RoomID)
	if err != nil {
		log.Error().Err(err).Str("roomID", sender.RoomID).Str("messageID", entry.MessageID).Msg("dispatcher: member snapshot failed, message stored but not delivered")
		return entry, nil
	}

	d.broadcast(fanCtx, members, models.NewMessageDelivery(entry, connectionID))
	return entry, nil
}

func (d *Dispatcher) broadcast(ctx context.Context, members []models.Connection, delivery models.Delivery) {
	var g errgroup.Group
	if d.FanoutLimit > 0 {
		g.SetLimit(d.FanoutLimit)
	}

	for _, m := range members {
		g.Go(func() error {
			d.deliverOne(ctx, m.ConnectionID, delivery)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, connectionID string, delivery models.Delivery) {
	attemptCtx := ctx
	if d.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.DeliveryTimeout)
		defer cancel()
	}

	err := d.Deliverer.Deliver(attemptCtx, connectionID, delivery)
	switch {
	case err == nil:
	case apperr.IsPeerGone(err):
		d.Presence.MarkUnreachable(ctx, connectionID)
	default:
		log.Warn().Err(err).Str("connectionID", connectionID).Msg("dispatcher: delivery failed")
	}
}

// History returns the full history of the connection's room in sequence order.
func (d *Dispatcher) History(ctx context.Context, connectionID string) ([]models.HistoryEntry, error) {
	c, err := d.resolveRoom(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return d.HistoryStore.ReadAll(ctx, c.RoomID)
}
