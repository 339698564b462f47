package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorderConn captures everything written to it.
type recorderConn struct {
	mu     sync.Mutex
	frames []Envelope
	pings  int
	closed bool
}

func (r *recorderConn) WriteJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v.(Envelope))
	return nil
}

func (r *recorderConn) WriteMessage(messageType int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if messageType == websocket.PingMessage {
		r.pings++
	}
	return nil
}

func (r *recorderConn) SetWriteDeadline(t time.Time) error { return nil }

func (r *recorderConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorderConn) recorded() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recorderConn) pingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

func newTestClient(userID, socketID string) (*Client, *recorderConn) {
	conn := &recorderConn{}
	c := NewClient(userID, socketID, conn)
	go c.WritePump()
	return c, conn
}

func TestAddClientDisplacesPrevious(t *testing.T) {
	h := New()

	first, _ := newTestClient("u1", "s1")
	second, _ := newTestClient("u1", "s2")

	assert.Nil(t, h.AddClient(first))
	displaced := h.AddClient(second)
	assert.Same(t, first, displaced)
	assert.Same(t, second, h.Client("u1"))
}

func TestRemoveClientKeepsSuccessor(t *testing.T) {
	h := New()

	old, _ := newTestClient("u1", "s1")
	h.AddClient(old)
	newer, _ := newTestClient("u1", "s2")
	h.AddClient(newer)

	// the displaced connection's teardown must not evict the new one
	h.RemoveClient(old)
	assert.Same(t, newer, h.Client("u1"))

	h.RemoveClient(newer)
	assert.Nil(t, h.Client("u1"))
}

func TestBroadcastReachesOnlySubscribers(t *testing.T) {
	h := New()

	inRoom, inConn := newTestClient("u1", "s1")
	outRoom, outConn := newTestClient("u2", "s2")
	h.AddClient(inRoom)
	h.AddClient(outRoom)
	h.Subscribe("r1", "u1")

	h.Broadcast("r1", Envelope{Type: "message", Payload: "hi"})

	require.Eventually(t, func() bool {
		return len(inConn.recorded()) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, outConn.recorded())
}

func TestBroadcastOrderPreserved(t *testing.T) {
	h := New()

	c, conn := newTestClient("u1", "s1")
	h.AddClient(c)
	h.Subscribe("r1", "u1")

	h.Broadcast("r1", Envelope{Type: "message"})
	h.Broadcast("r1", Envelope{Type: "participantsUpdate"})

	require.Eventually(t, func() bool {
		return len(conn.recorded()) == 2
	}, time.Second, time.Millisecond)
	frames := conn.recorded()
	assert.Equal(t, "message", frames[0].Type)
	assert.Equal(t, "participantsUpdate", frames[1].Type)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New()

	c, conn := newTestClient("u1", "s1")
	h.AddClient(c)
	h.Subscribe("r1", "u1")
	h.Unsubscribe("r1", "u1")

	h.Broadcast("r1", Envelope{Type: "message"})
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, conn.recorded())
}

func TestWritePumpPingsOnKeepaliveCadence(t *testing.T) {
	conn := &recorderConn{}
	c := NewClient("u1", "s1", conn)
	c.SetKeepalive(5*time.Millisecond, time.Second)
	go c.WritePump()
	defer c.Close("")

	require.Eventually(t, func() bool {
		return conn.pingCount() >= 3
	}, time.Second, time.Millisecond)

	// data frames keep flowing between pings
	c.Send(Envelope{Type: "message"})
	require.Eventually(t, func() bool {
		return len(conn.recorded()) == 1
	}, time.Second, time.Millisecond)
}

func TestCloseFirstReasonWins(t *testing.T) {
	c, _ := newTestClient("u1", "s1")
	c.Close(ReasonDuplicateLogin)
	c.Close(ReasonClientClose)
	assert.Equal(t, ReasonDuplicateLogin, c.CloseReason())
}
