package realtime

import (
	"sync"

	"carelink/internal/session"
)

// Client represents one connected, authenticated persistent link.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from
//   concurrent broadcasters.
// - done signals the connection goroutines to stop.
// - Close is idempotent.
type Client struct {
	ConnectionID string
	UserID       string
	Role         session.Role

	Send chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connectionID, userID string, role session.Role, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnectionID: connectionID,
		UserID:       userID,
		Role:         role,
		Send:         make(chan Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
