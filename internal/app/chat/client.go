/*
Package chat contains the live connection and broadcast engine.

This file defines the websocket Client: one read pump and one write pump per
connection, heartbeats, and the buffered send queue behind the Sender contract.
The client knows nothing about the protocol; every inbound frame goes to the
gateway verbatim.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"buzzline/internal/pkg/logx"
)

const (
	// writeWait is the timeout for a single write to the websocket.
	writeWait = 10 * time.Second

	// pongWait is the longest the server waits for a pong before dropping
	// the connection.
	pongWait = 60 * time.Second

	// pingPeriod is how often pings go out; must be under pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxEventSize caps a single inbound frame in bytes.
	maxEventSize = 8192

	// sendQueueSize is the per-connection outbound buffer. A connection that
	// cannot drain this many events gets its sends rejected rather than
	// stalling fan-out.
	sendQueueSize = 256
)

// ErrSendQueueFull is returned by Send when the connection's outbound buffer
// cannot accept another event.
var ErrSendQueueFull = errors.New("client send queue full")

// Client binds one websocket connection to its gateway-assigned id.
type Client struct {
	conn    *websocket.Conn
	gateway *MessageGateway
	id      ConnID
	send    chan []byte

	closeSendOnce sync.Once
	logger        zerolog.Logger
}

// NewClient admits the websocket connection into the gateway and returns the
// client. The caller starts WritePump in a goroutine and then blocks on
// ReadPump.
func NewClient(gateway *MessageGateway, wsConn *websocket.Conn) *Client {
	c := &Client{
		conn:    wsConn,
		gateway: gateway,
		send:    make(chan []byte, sendQueueSize),
	}

	c.id = gateway.Admit(c)
	c.logger = logx.Logger().With().
		Str("component", "Client").
		Uint64("conn_id", uint64(c.id)).
		Logger()

	return c
}

// ID returns the gateway-assigned connection id.
func (c *Client) ID() ConnID {
	return c.id
}

// Send queues one encoded event for delivery. It never blocks: when the queue
// is full the event is dropped and ErrSendQueueFull returned, so a slow client
// only loses its own events.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ReadPump reads frames off the websocket and hands them to the gateway until
// the connection dies, then runs the teardown path exactly once from here.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxEventSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			break
		}

		c.gateway.HandleEvent(context.Background(), c.id, raw)
	}
}

// cleanupOnDisconnect runs the unconditional transport-close path: gateway
// teardown, send queue closure, and the underlying connection close.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Connection cleanup starting")

	c.gateway.Disconnect(c.id)

	c.closeSendOnce.Do(func() {
		close(c.send)
	})

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error")
	}
}

// WritePump drains the send queue onto the websocket and keeps the heartbeat
// alive. It exits when the queue closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug().Err(err).Msg("Error writing close message")
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
