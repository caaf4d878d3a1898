package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/pkg/scope"
)

// subscription is a client subscription held by its connection.
type subscription struct {
	room       string
	event      string
	unregister scope.Unregister
}

// Conn is one websocket client.
type Conn struct {
	id   string
	ws   *websocket.Conn
	hub  *Hub
	node *scope.Node

	// Touched only on the hub loop.
	subs map[string]subscription

	send   chan []byte
	done   chan struct{}
	closed atomic.Bool

	writeTimeout time.Duration
	pingInterval time.Duration
	maxMessage   int64

	metrics *hubMetrics
	logger  *slog.Logger
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues msg for the writer goroutine. When the queue is full the
// message is dropped.
func (c *Conn) Send(msg ServerMessage) {
	if c.closed.Load() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encode message", "error", err)
		return
	}
	select {
	case c.send <- data:
		c.metrics.sent()
	case <-c.done:
	default:
		c.metrics.dropped()
		c.logger.Warn("send queue full, dropping message", "type", msg.Type, "id", msg.ID)
	}
}

// Close closes the websocket. The read loop then detaches the connection
// from the hub.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.ws.Close()
}

// readLoop reads client messages until the connection fails, then
// detaches the connection from the hub.
func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		remove := func() { c.hub.removeConn(c) }
		if err := c.hub.Dispatch(remove); err == ErrDispatchQueueFull {
			// The node must not stay attached: its bindings would leak.
			go c.hub.Do(context.Background(), remove)
		}
	}()

	c.ws.SetReadLimit(c.maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))

		m, perr := decodeClientMessage(data)
		if perr != nil {
			c.metrics.received("invalid")
			id := ""
			if m != nil {
				id = m.ID
			}
			c.replyError(id, perr)
			continue
		}
		c.metrics.received(m.Op)

		if err := c.hub.Dispatch(func() { c.handle(m) }); err != nil {
			c.replyError(m.ID, errors.New("E200").WithDetail("hub busy").Wrap(err))
		}
	}
}

// handle applies a client message. Runs on the hub loop.
func (c *Conn) handle(m *ClientMessage) {
	if c.subs == nil || c.node.IsDestroyed() {
		return
	}

	var perr *errors.ScopeError
	switch m.Op {
	case OpSubscribe:
		perr = c.hub.subscribe(c, m)
	case OpUnsubscribe:
		perr = c.hub.unsubscribe(c, m.ID)
	case OpEmit, OpBroadcast:
		var payload any
		if len(m.Payload) > 0 {
			payload = m.Payload
		}
		if _, err := c.hub.dispatch(m.Op, m.Room, m.Event, payload); err != nil {
			perr = errors.New("E205").WithDetailf("%q", m.Room).Wrap(err)
		}
	}

	if perr != nil {
		c.replyError(m.ID, perr)
		return
	}
	if m.ID != "" {
		c.Send(ServerMessage{Type: TypeAck, ID: m.ID})
	}
}

func (c *Conn) replyError(id string, se *errors.ScopeError) {
	c.metrics.protocolError(se.Code)
	c.Send(errorMessage(id, se))
}

// writeLoop drains the send queue and sends heartbeat pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
