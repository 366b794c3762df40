package server

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"parchis/internal/metrics"
	"parchis/internal/protocol"
	"parchis/internal/transport"
)

// client is one connection. The mailbox is written by the session worker and
// the connection's reader, and drained by the writer goroutine.
type client struct {
	id      string
	conn    transport.Conn
	mailbox chan []byte
	done    chan struct{}
	once    sync.Once
	authed  atomic.Bool
	metrics *metrics.Metrics

	// Owned by the session worker.
	username string
}

func newClient(conn transport.Conn, mailboxSize int, m *metrics.Metrics) *client {
	return &client{
		id:      uuid.NewString(),
		conn:    conn,
		mailbox: make(chan []byte, mailboxSize),
		done:    make(chan struct{}),
		metrics: m,
	}
}

// send enqueues msg without blocking. Returns false when the message was
// dropped because the mailbox is full or the connection is gone.
func (c *client) send(msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.mailbox <- data:
		return true
	default:
		c.metrics.Dropped()
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
