// Package transport frames protocol messages over TCP lines and WebSocket
// text frames behind one Conn interface.
package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrFrameTooLarge is returned when a peer sends a frame over the size limit.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Conn carries whole frames. ReadFrame is called from a single reader
// goroutine and WriteFrame from a single writer goroutine; Close may be
// called from anywhere.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
	RemoteAddr() string
}

// LineConn frames messages as '\n'-terminated lines over a stream.
type LineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

var _ Conn = (*LineConn)(nil)

// NewLineConn wraps conn. Lines longer than maxLine bytes fail the read with
// ErrFrameTooLarge. A zero writeTimeout disables write deadlines.
func NewLineConn(conn net.Conn, maxLine int, writeTimeout time.Duration) *LineConn {
	sc := bufio.NewScanner(conn)
	initial := 4096
	if maxLine < initial {
		initial = maxLine
	}
	sc.Buffer(make([]byte, 0, initial), maxLine)
	return &LineConn{conn: conn, scanner: sc, writeTimeout: writeTimeout}
}

// ReadFrame returns the next line without its terminator. Chunked input is
// reassembled on the delimiter; blank lines are skipped.
func (c *LineConn) ReadFrame() ([]byte, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	err := c.scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return nil, ErrFrameTooLarge
	}
	if err == nil {
		return nil, net.ErrClosed
	}
	return nil, err
}

func (c *LineConn) WriteFrame(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *LineConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}

func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
