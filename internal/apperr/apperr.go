// Package apperr defines the error taxonomy shared by the registry, history store,
// presence manager and dispatcher. Callers match with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied means the connection has no resolvable room membership.
	ErrAccessDenied = errors.New("access denied")
	// ErrDuplicateConnection means a live registry entry already uses the connection id.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrInvalidState means the operation is not allowed in the session's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound means the registry has no live entry for the connection id.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable means the registry or history backing store failed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidArgument means the request itself is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StorageUnavailable wraps a backing-store failure so that it matches ErrStorageUnavailable
// while keeping the original cause reachable.
func StorageUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// DeliveryError is the result of a failed delivery attempt to one recipient.
// Gone is set when the transport knows the peer will never accept another delivery.
type DeliveryError struct {
	ConnectionID string
	Gone         bool
	Err          error
}

func (e *DeliveryError) Error() string {
	kind := "transient delivery failure"
	if e.Gone {
		kind = "peer unreachable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", kind, e.ConnectionID)
	}
	return fmt.Sprintf("%s: %s: %v", kind, e.ConnectionID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PeerGone builds the peer-unreachable variant.
func PeerGone(connectionID string, err error) error {
	return &DeliveryError{ConnectionID: connectionID, Gone: true, Err: err}
}

// Transient builds the transient variant.
func Transient(connectionID string, err error) error {
	return &DeliveryError{ConnectionID: connectionID, Err: err}
}

// IsPeerGone reports whether err is a delivery failure for a peer that is gone.
// Every other error, including untagged ones, is treated as transient.
func IsPeerGone(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Gone
}

// Wire codes returned to clients in error frames.
const (
	CodeAccessDenied        = "access_denied"
	CodeDuplicateConnection = "duplicate_connection"
	CodeInvalidState        = "invalid_state"
	CodeInvalidArgument     = "invalid_argument"
	CodeStorageUnavailable  = "storage_unavailable"
	CodeInternal            = "internal"
)

// Code maps err to a stable wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrDuplicateConnection):
		return CodeDuplicateConnection
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	default:
		return CodeInternal
	}
}
