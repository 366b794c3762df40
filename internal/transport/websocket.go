package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn carries one message per text frame.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

var _ Conn = (*WSConn)(nil)

func NewWSConn(ws *websocket.Conn, maxFrame int, writeTimeout time.Duration) *WSConn {
	if maxFrame > 0 {
		ws.SetReadLimit(int64(maxFrame))
	}
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *WSConn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrFrameTooLarge
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WSConn) WriteFrame(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// IsExpectedClose reports whether err is a normal peer hang-up rather than a
// transport failure worth logging.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return !websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	}
	return false
}

// WebSocketHandler upgrades requests and hands each connection to accept,
// which owns it from then on.
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	maxFrame     int
	writeTimeout time.Duration
	accept       func(Conn)
	onError      func(error)
}

// NewWebSocketHandler builds the /ws endpoint. onError may be nil.
func NewWebSocketHandler(maxFrame int, writeTimeout time.Duration, accept func(Conn), onError func(error)) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxFrame:     maxFrame,
		writeTimeout: writeTimeout,
		accept:       accept,
		onError:      onError,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		if h.onError != nil {
			h.onError(err)
		}
		return
	}
	h.accept(NewWSConn(ws, h.maxFrame, h.writeTimeout))
}
