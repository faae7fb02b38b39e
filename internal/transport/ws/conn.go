package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSendFull   = errors.New("send buffer full")
)

// conn is one application connection. It implements bridge.Channel by
// queueing encoded frames for writePump, the only goroutine that writes
// to the socket.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(id string, wsConn *websocket.Conn, logger *slog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     wsConn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
}

// Reply waits for room in the send queue. A response is never dropped
// while the connection is open.
func (c *conn) Reply(id string, resp bridge.Response) error {
	data, err := bridge.EncodeResponse(id, resp)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// Invoke drops the event when the send queue is full.
func (c *conn) Invoke(ev bridge.Event) error {
	data, err := bridge.EncodeEvent(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendFull
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("ws write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump decodes inbound frames and hands each call to onCall in order.
// Malformed frames are logged and skipped.
func (c *conn) readPump(onCall func(bridge.Call)) {
	c.ws.SetReadLimit(MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws closed unexpectedly", "err", err)
			}
			return
		}

		call, err := bridge.DecodeCall(raw)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", "err", err)
			continue
		}
		onCall(call)
	}
}
