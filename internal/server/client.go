package server

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	sendBufferSize = 256

	// DefaultMaxMessageSize bounds one inbound frame when no limit is set.
	DefaultMaxMessageSize = 64 << 10
)

// Client is one websocket connection for an identity.
type Client struct {
	conn      *websocket.Conn
	identity  string
	readLimit int64
	log       zerolog.Logger
	send      chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewClient wraps conn. A readLimit of zero or less selects
// DefaultMaxMessageSize.
func NewClient(identity string, conn *websocket.Conn, readLimit int64, l zerolog.Logger) *Client {
	if readLimit <= 0 {
		readLimit = DefaultMaxMessageSize
	}
	return &Client{
		conn:      conn,
		identity:  identity,
		readLimit: readLimit,
		log:       l.With().Str("identity", identity).Logger(),
		send:      make(chan []byte, sendBufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Send queues frame for the write pump without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.stop:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which flushes queued frames and then closes
// the socket. Safe to call more than once.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// Write drains the send queue onto the socket and keeps the peer alive with
// pings. It owns all writes to the socket.
func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.TextMessage, frame) {
				c.Close()
				return
			}
		case <-c.stop:
			c.flush()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

// Read delivers each inbound frame to handle, in order, until the socket
// fails or closes. Frames over the read limit are discarded and answered
// with a notice; the connection stays open.
func (c *Client) Read(handle func(raw []byte)) {
	defer func() {
		c.Close()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r, c.readLimit+1))
		if err == nil && int64(len(raw)) > c.readLimit {
			_, err = io.Copy(io.Discard, r)
			if err == nil {
				c.log.Info().Int64("limit", c.readLimit).Msg("frame exceeds read limit")
				notify(c, oversizedNotice)
				continue
			}
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("ws: read frame")
			return
		}

		handle(raw)
	}
}

// Done is closed once the socket has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Debug().Err(err).Msg("write message")
		}
		return false
	}

	return true
}
