package chathub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
	"roomrelay/backend/internal/presence"

	"github.com/rs/zerolog/log"
)

// State of a Session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the lifecycle of one connection: Connecting, then Active after a successful
// join, then Closed. Closed is terminal.
type Session struct {
	ConnectionID string
	UserID       string
	RoomID       string

	presence   *presence.Manager
	dispatcher *Dispatcher

	mu    sync.Mutex
	state State
}

// NewSession creates a session in StateConnecting.
func NewSession(connectionID, userID, roomID string, pres *presence.Manager, dispatcher *Dispatcher) *Session {
	return &Session{
		ConnectionID: connectionID,
		UserID:       userID,
		RoomID:       roomID,
		presence:     pres,
		dispatcher:   dispatcher,
		state:        StateConnecting,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join registers the connection in its room. A failed join closes the session without any
// leave bookkeeping since nothing was registered.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return fmt.Errorf("join in state %s: %w", s.state, apperr.ErrInvalidState)
	}

	if _, err := s.presence.Join(ctx, s.ConnectionID, s.UserID, s.RoomID); err != nil {
		s.state = StateClosed
		return err
	}
	s.state = StateActive
	return nil
}

func (s *Session) requireActive(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%s in state %s: %w", op, s.state, apperr.ErrInvalidState)
	}
	return nil
}

// Send broadcasts body to the session's room.
func (s *Session) Send(ctx context.Context, body string) (models.HistoryEntry, error) {
	if err := s.requireActive("send"); err != nil {
		return models.HistoryEntry{}, err
	}
	entry, err := s.dispatcher.Send(ctx, s.ConnectionID, body)
	s.closeIfPurged(err)
	return entry, err
}

// RequestHistory returns the room's history in sequence order.
func (s *Session) RequestHistory(ctx context.Context) ([]models.HistoryEntry, error) {
	if err := s.requireActive("history"); err != nil {
		return nil, err
	}
	entries, err := s.dispatcher.History(ctx, s.ConnectionID)
	s.closeIfPurged(err)
	return entries, err
}

// closeIfPurged closes an active session whose registry entry was removed elsewhere
// (sweep, delivery failure, admin kick). There is nothing left to leave.
func (s *Session) closeIfPurged(err error) {
	if !errors.Is(err, apperr.ErrAccessDenied) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive {
		s.state = StateClosed
		log.Info().Str("connectionID", s.ConnectionID).Str("roomID", s.RoomID).Msg("session: registry entry gone, closing")
	}
}

// Close moves the session to StateClosed. The presence entry is released exactly once and
// only if the session had joined.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	if prev != StateActive {
		return nil
	}
	return s.presence.Leave(ctx, s.ConnectionID)
}

// Handle executes one inbound frame. Failures are also reported to the connection as an
// error delivery; the session stays in its state unless the frame was a leave or the
// connection is no longer registered.
func (s *Session) Handle(ctx context.Context, frame models.InboundFrame) error {
	var err error
	switch frame.Action {
	case models.ActionSendMessage:
		_, err = s.Send(ctx, frame.Data.Message)
	case models.ActionHistory:
		var entries []models.HistoryEntry
		entries, err = s.RequestHistory(ctx)
		if err == nil {
			err = s.dispatcher.Deliverer.Deliver(ctx, s.ConnectionID, models.HistoryDelivery(entries))
			if err != nil {
				log.Warn().Err(err).Str("connectionID", s.ConnectionID).Msg("session: history reply not delivered")
				return err
			}
		}
	case models.ActionLeave:
		err = s.Close(ctx)
	default:
		err = fmt.Errorf("unknown action %q: %w", frame.Action, apperr.ErrInvalidArgument)
	}

	if err != nil {
		s.reportError(ctx, err)
	}
	return err
}

func (s *Session) reportError(ctx context.Context, err error) {
	code := apperr.Code(err)
	log.Debug().Err(err).Str("connectionID", s.ConnectionID).Str("code", code).Msg("session: request failed")

	if derr := s.dispatcher.Deliverer.Deliver(ctx, s.ConnectionID, models.Delivery{Kind: models.KindError, Error: code}); derr != nil {
		log.Debug().Err(derr).Str("connectionID", s.ConnectionID).Msg("session: error reply not delivered")
	}
}
