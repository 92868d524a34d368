package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"roomrelay/backend/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestIsPeerGone(t *testing.T) {
	cause := errors.New("close sent")

	assert.True(t, apperr.IsPeerGone(apperr.PeerGone("c1", cause)))
	assert.True(t, apperr.IsPeerGone(fmt.Errorf("deliver: %w", apperr.PeerGone("c1", nil))))
	assert.False(t, apperr.IsPeerGone(apperr.Transient("c1", cause)))
	assert.False(t, apperr.IsPeerGone(cause), "untagged errors are transient")
	assert.False(t, apperr.IsPeerGone(nil))
}

func TestDeliveryError_UnwrapsCause(t *testing.T) {
	cause := errors.New("buffer full")
	err := apperr.Transient("c9", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient delivery failure")
	assert.Contains(t, err.Error(), "c9")
	assert.Contains(t, apperr.PeerGone("c9", nil).Error(), "peer unreachable")
}

func TestStorageUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperr.StorageUnavailable("registry register", cause)

	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "registry register")
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{apperr.ErrAccessDenied, apperr.CodeAccessDenied},
		{fmt.Errorf("join: %w", apperr.ErrDuplicateConnection), apperr.CodeDuplicateConnection},
		{apperr.ErrInvalidState, apperr.CodeInvalidState},
		{apperr.ErrInvalidArgument, apperr.CodeInvalidArgument},
		{apperr.StorageUnavailable("op", errors.New("x")), apperr.CodeStorageUnavailable},
		{errors.New("boom"), apperr.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.Code(tt.err))
		})
	}
}
