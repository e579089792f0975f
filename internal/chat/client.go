package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// errMalformedFrame marks a frame that arrived intact but did not decode.
// The read loop skips these; only transport errors end a connection.
var errMalformedFrame = errors.New("malformed frame")

const (
	// pongWait is how long the read side waits for any traffic (pongs
	// included) before assuming the peer is gone.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so pings keep the read
	// deadline alive.
	pingPeriod = 54 * time.Second

	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Conn is one live websocket connection. Outbound events go through a
// buffered channel drained by writePump, so a slow peer never blocks the
// goroutine that produced the event.
type Conn struct {
	id     string
	userID uuid.UUID

	ws           *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger

	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, userID uuid.UUID, writeTimeout time.Duration, logger *zap.Logger) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{
		id:           uuid.NewString(),
		userID:       userID,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (c *Conn) ID() string { return c.id }

// UserID is the authenticated user behind this connection.
func (c *Conn) UserID() uuid.UUID { return c.userID }

// Send queues an outbound event. Reports false when the buffer is full or
// the connection is shutting down; the dispatcher treats that as a failed
// delivery.
func (c *Conn) Send(event Event) bool {
	data, err := json.Marshal(event.Data)
	if err != nil {
		c.logger.Error("marshal outbound event",
			zap.String("event", event.Name),
			zap.Error(err),
		)
		return true
	}
	frame, err := json.Marshal(Frame{Event: event.Name, Data: data})
	if err != nil {
		return true
	}

	defer func() {
		// send may be closed by a concurrent Close; a failed delivery is
		// the right report for that.
		recover()
	}()
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once and from any
// goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.ws.Close()
	})
}

// ReadFrame blocks for the next inbound frame. A transport error means the
// connection is done; undecodable bytes come back wrapped in
// errMalformedFrame so the caller can skip the frame and keep reading.
func (c *Conn) ReadFrame() (*Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return &frame, nil
}

func (c *Conn) setupRead() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with pings. Runs in its own goroutine; returns when the send channel
// closes or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !isExpectedClose(err) {
					c.logger.Debug("write failed", zap.String("conn_id", c.id), zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	)
}
