package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Close reasons carried to the room coordinator's disconnect cleanup.
const (
	ReasonClientClose    = "client_close"
	ReasonDuplicateLogin = "duplicate_login"
)

const (
	defaultPingInterval  = 25 * time.Second
	defaultWriteDeadline = 10 * time.Second
)

// Envelope is the JSON frame exchanged with clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Conn is the minimal connection surface the hub writes to. Satisfied by
// *websocket.Conn; tests substitute a recorder.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client represents a connected websocket client
type Client struct {
	UserID   string
	SocketID string

	conn Conn
	send chan Envelope

	pingInterval  time.Duration
	writeDeadline time.Duration

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	reason    string
}

func NewClient(userID, socketID string, conn Conn) *Client {
	return &Client{
		UserID:        userID,
		SocketID:      socketID,
		conn:          conn,
		send:          make(chan Envelope, 256),
		closed:        make(chan struct{}),
		pingInterval:  defaultPingInterval,
		writeDeadline: defaultWriteDeadline,
	}
}

// SetKeepalive overrides the ping cadence and per-write deadline. Call before
// WritePump starts.
func (c *Client) SetKeepalive(pingInterval, writeDeadline time.Duration) {
	if pingInterval > 0 {
		c.pingInterval = pingInterval
	}
	if writeDeadline > 0 {
		c.writeDeadline = writeDeadline
	}
}

// Send queues env for delivery. Drops the frame when the client's buffer is
// stuck rather than blocking the broadcaster.
func (c *Client) Send(env Envelope) {
	select {
	case <-c.closed:
	case c.send <- env:
	default:
		// drop if blocked
	}
}

// WritePump drains the send buffer onto the connection and pings on the
// keepalive cadence so the peer's pong resets the read deadline. Runs in its
// own goroutine for the connection's lifetime.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			// flush whatever is already queued
			for {
				select {
				case env := <-c.send:
					if err := c.write(env); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(env Envelope) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	return c.conn.WriteJSON(env)
}

// Close marks the client closed with a reason and wakes the write pump.
// Idempotent; the first reason wins.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
}

// CloseReason returns the reason recorded by Close, or "" while live.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done exposes the closed signal for the reader loop.
func (c *Client) Done() <-chan struct{} { return c.closed }
