package presence

import (
	"sync"
	"time"
)

// Conn is a live socket as seen by the hub. Send writes one text frame.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Client is one registered connection. The user identifier is bound once at
// registration and never changes.
type Client struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	conn     Conn
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newClient(id, userID string, conn Conn, buffer int) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, buffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Done is closed once the writer has exited and closed the connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// enqueue queues a frame without blocking. It reports false when the queue is
// full. Frames for a stopped client are discarded.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.stop:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writeLoop drains the queue in order until the client is stopped or a write fails.
func (c *Client) writeLoop(onWriteError func(*Client, error)) {
	defer close(c.done)
	defer c.conn.Close()
	for {
		select {
		case <-c.stop:
			return
		case data := <-c.send:
			if err := c.conn.Send(data); err != nil {
				onWriteError(c, err)
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}
