package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lchangra/lchangra-signal/internal/metrics"
	"github.com/lchangra/lchangra-signal/internal/pairing"
	"github.com/lchangra/lchangra-signal/internal/ratelimit"
)

const wsWriteWait = 5 * time.Second

// wsConn is one browser connection. It is the pairing.Peer the matchmaker
// talks to: events are converted to wire frames and queued in out, and a
// dedicated writer goroutine is the only one that writes data frames.
type wsConn struct {
	id   pairing.ConnID
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	out     *pairing.Outbox[serverMessage]
	limiter *ratelimit.TokenBucket
	alive   atomic.Bool

	closeOnce sync.Once
}

func newWSConn(s *Server, conn *websocket.Conn) *wsConn {
	id := pairing.NewConnID()
	c := &wsConn{
		id:      id,
		srv:     s,
		conn:    conn,
		log:     s.log.With("conn_id", id),
		out:     pairing.NewOutbox[serverMessage](s.outboxSize),
		limiter: ratelimit.NewTokenBucket(s.clock, s.messagesPerSecond, s.messagesPerSecond),
	}
	c.alive.Store(true)
	return c
}

func (c *wsConn) ID() pairing.ConnID { return c.id }

func (c *wsConn) Alive() bool { return c.alive.Load() }

func (c *wsConn) Send(ev pairing.Event) bool {
	return c.out.Enqueue(serverMessageFromEvent(ev))
}

// run serves the connection until the client goes away. It must be called
// after the connection has been registered with the matchmaker.
func (c *wsConn) run() {
	defer c.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	stopPing := make(chan struct{})
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(stopPing)
	}()

	closeCode, closeReason := c.readLoop()

	// Flip liveness before cleanup so a concurrent match never picks this
	// connection out of the queue.
	c.alive.Store(false)
	c.srv.matchmaker.DisconnectCleanup(c.id)

	close(stopPing)
	<-pingDone
	c.out.Close()
	<-writerDone

	if closeCode != 0 {
		c.closeWith(closeCode, closeReason)
	}
	c.log.Debug("websocket closed", "close_code", closeCode, "reason", closeReason)
}

// readLoop returns the close code to send once pending frames are flushed,
// or 0 when the socket is already closing.
func (c *wsConn) readLoop() (int, string) {
	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				return websocket.CloseNormalClosure, "idle timeout"
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig.
				c.srv.metrics.Inc(metrics.MalformedMessages)
				c.log.Debug("websocket message too big", "limit", c.srv.maxMessageBytes)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("websocket read failed", "err", err)
			}
			return 0, ""
		}
		c.extendReadDeadline()

		// Read first, then limit: closing with unread bytes in the socket
		// buffer can turn into a RST that hides the close code from the client.
		if !c.limiter.Allow() {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.out.Enqueue(errorMessage(errorCodeRateLimited, "rate limit exceeded"))
			return websocket.ClosePolicyViolation, "rate limit exceeded"
		}
		if msgType != websocket.TextMessage {
			c.reject("expected text message")
			continue
		}
		msg, err := parseClientMessage(data)
		if err != nil {
			c.reject(err.Error())
			continue
		}
		c.dispatch(msg)
	}
}

func (c *wsConn) dispatch(msg clientMessage) {
	mm := c.srv.matchmaker
	var err error
	switch msg.Type {
	case messageTypeJoin:
		name := ""
		if msg.Name != nil {
			name = *msg.Name
		}
		err = mm.Join(c.id, name)
	case messageTypeNext:
		err = mm.RequestNext(c.id)
	case messageTypeLeave:
		mm.Leave(c.id)
	default:
		mm.Relay(c.id, msg.signal())
	}
	if err != nil {
		c.log.Debug("dispatch failed", "type", msg.Type, "err", err)
	}
}

// reject answers a malformed frame with an error frame. The connection stays
// open.
func (c *wsConn) reject(reason string) {
	c.srv.metrics.Inc(metrics.MalformedMessages)
	c.log.Debug("malformed message", "err", reason)
	if !c.out.Enqueue(errorMessage(errorCodeBadMessage, reason)) {
		c.srv.metrics.Inc(metrics.OutboxDropped)
	}
}

func (c *wsConn) writeLoop() {
	for {
		msg, ok := c.out.Dequeue()
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.log.Debug("websocket write failed", "err", err)
			c.out.Discard()
			// Unblock the reader so cleanup runs.
			c.Close()
			return
		}
	}
}

func (c *wsConn) pingLoop(stop <-chan struct{}) {
	if c.srv.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) extendReadDeadline() {
	if c.srv.idleTimeout <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
}

func (c *wsConn) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
