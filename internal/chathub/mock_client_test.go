package chathub_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"
)

// MockClient is an in-process Client whose outbound queue tests can read.
type MockClient struct {
	connectionID string
	userID       string
	roomID       string
	RecvChannel  chan models.Delivery

	mu     sync.Mutex
	closed bool
}

func newMockClient(connectionID, userID, roomID string) *MockClient {
	return &MockClient{
		connectionID: connectionID,
		userID:       userID,
		roomID:       roomID,
		RecvChannel:  make(chan models.Delivery, 10),
	}
}

func (c *MockClient) GetConnectionID() string                { return c.connectionID }
func (c *MockClient) GetUserID() string                      { return c.userID }
func (c *MockClient) GetRoomID() string                      { return c.roomID }
func (c *MockClient) GetSendChannel() chan<- models.Delivery { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next waits for the next delivery queued for the client.
func (c *MockClient) next(timeout time.Duration) (models.Delivery, bool) {
	select {
	case d := <-c.RecvChannel:
		return d, true
	case <-time.After(timeout):
		return models.Delivery{}, false
	}
}

// recordingDeliverer records every attempt and fails the ones listed in failures.
type recordingDeliverer struct {
	mu       sync.Mutex
	calls    []deliveryCall
	failures map[string]error
}

type deliveryCall struct {
	ConnectionID string
	Delivery     models.Delivery
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{failures: make(map[string]error)}
}

func (r *recordingDeliverer) failWith(connectionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[connectionID] = err
}

func (r *recordingDeliverer) Deliver(_ context.Context, connectionID string, d models.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, deliveryCall{ConnectionID: connectionID, Delivery: d})
	return r.failures[connectionID]
}

func (r *recordingDeliverer) to(connectionID string) []models.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Delivery
	for _, c := range r.calls {
		if c.ConnectionID == connectionID {
			out = append(out, c.Delivery)
		}
	}
	return out
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var (
	errGone    = apperr.PeerGone("b", errors.New("410 gone"))
	errTimeout = apperr.Transient("b", context.DeadlineExceeded)
)
