package realtime

import (
	"errors"
	"sync"
)

// ErrConnClosed indicates a send on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// ErrBufferFull indicates the connection could not keep up and the update
// was dropped.
var ErrBufferFull = errors.New("connection buffer full, update dropped")

// defaultBuffer is the per-connection update buffer size.
const defaultBuffer = 64

// ChanConn is a channel-backed Conn for in-process observers (SSE and
// websocket writers drain Updates). Send never blocks: when the buffer is
// full the update is dropped and the client reconciles by refetch.
type ChanConn struct {
	userID  string
	updates chan Update

	mu     sync.Mutex
	closed bool
}

var _ Conn = (*ChanConn)(nil)

// NewChanConn creates a connection for userID with the default buffer.
func NewChanConn(userID string) *ChanConn {
	return NewChanConnSize(userID, defaultBuffer)
}

// NewChanConnSize creates a connection with an explicit buffer size.
func NewChanConnSize(userID string, size int) *ChanConn {
	if size <= 0 {
		size = defaultBuffer
	}
	return &ChanConn{
		userID:  userID,
		updates: make(chan Update, size),
	}
}

// UserID implements Conn.
func (c *ChanConn) UserID() string { return c.userID }

// Updates is the receive side drained by the transport writer.
func (c *ChanConn) Updates() <-chan Update { return c.updates }

// Send implements Conn.
func (c *ChanConn) Send(u Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.updates <- u:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close implements Conn.
func (c *ChanConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.updates)
	return nil
}
