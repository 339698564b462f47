package gate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/session"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
)

type staticVerifier struct{}

func (staticVerifier) Verify(token string) (string, error) {
	if token == "" || token == "bad" {
		return "", fmt.Errorf("%w: bad token", apperrors.ErrAuthentication)
	}
	return "user-" + token, nil
}

type recorderConn struct {
	mu     sync.Mutex
	frames []hub.Envelope
	closed bool
}

func (r *recorderConn) WriteJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v.(hub.Envelope))
	return nil
}

func (r *recorderConn) WriteMessage(messageType int, data []byte) error { return nil }

func (r *recorderConn) SetWriteDeadline(t time.Time) error { return nil }

func (r *recorderConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorderConn) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

func (r *recorderConn) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func newGatekeeper(t *testing.T, grace time.Duration) (*Gatekeeper, *session.Registry, *hub.Hub) {
	t.Helper()
	kv := store.NewMemoryKV()
	sessions := session.NewRegistry(kv, "test", time.Hour)
	h := hub.New()
	return New(staticVerifier{}, sessions, h, grace, zap.NewNop().Sugar()), sessions, h
}

func TestAdmitHappyPath(t *testing.T) {
	g, sessions, h := newGatekeeper(t, time.Minute)
	ctx := context.Background()

	s, _, err := sessions.Create(ctx, "user-alice", domain.SessionMetadata{})
	require.NoError(t, err)

	client, err := g.Admit(ctx, &recorderConn{}, Credentials{Token: "alice", SessionID: s.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "user-alice", client.UserID)
	assert.Same(t, client, h.Client("user-alice"))
}

func TestAdmitRejectsBadToken(t *testing.T) {
	g, _, _ := newGatekeeper(t, time.Minute)

	_, err := g.Admit(context.Background(), &recorderConn{}, Credentials{Token: "bad", SessionID: "x"})
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestAdmitRejectsSupersededSession(t *testing.T) {
	g, sessions, _ := newGatekeeper(t, time.Minute)
	ctx := context.Background()

	old, _, err := sessions.Create(ctx, "user-alice", domain.SessionMetadata{})
	require.NoError(t, err)
	_, _, err = sessions.Create(ctx, "user-alice", domain.SessionMetadata{})
	require.NoError(t, err)

	_, err = g.Admit(ctx, &recorderConn{}, Credentials{Token: "alice", SessionID: old.SessionID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)
}

func TestDuplicateLoginEvictsOldAfterGrace(t *testing.T) {
	g, sessions, h := newGatekeeper(t, 50*time.Millisecond)
	ctx := context.Background()

	s, _, err := sessions.Create(ctx, "user-alice", domain.SessionMetadata{})
	require.NoError(t, err)

	oldConn := &recorderConn{}
	oldClient, err := g.Admit(ctx, oldConn, Credentials{Token: "alice", SessionID: s.SessionID})
	require.NoError(t, err)
	go oldClient.WritePump()

	// the new connection is admitted immediately, not after the grace window
	start := time.Now()
	newClient, err := g.Admit(ctx, &recorderConn{}, Credentials{
		Token:     "alice",
		SessionID: s.SessionID,
		Metadata:  domain.SessionMetadata{DeviceInfo: "phone"},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Same(t, newClient, h.Client("user-alice"))

	require.Eventually(t, func() bool {
		types := oldConn.types()
		return len(types) == 2 && types[0] == "duplicate_login" && types[1] == "session_ended"
	}, time.Second, time.Millisecond)
	assert.Equal(t, hub.ReasonDuplicateLogin, oldClient.CloseReason())
	require.Eventually(t, oldConn.isClosed, time.Second, time.Millisecond)
}

func TestForceLoginSupersedesAndEvictsImmediately(t *testing.T) {
	g, sessions, _ := newGatekeeper(t, time.Hour) // grace must not matter here
	ctx := context.Background()

	s, _, err := sessions.Create(ctx, "user-alice", domain.SessionMetadata{})
	require.NoError(t, err)

	oldConn := &recorderConn{}
	oldClient, err := g.Admit(ctx, oldConn, Credentials{Token: "alice", SessionID: s.SessionID})
	require.NoError(t, err)
	go oldClient.WritePump()

	fresh, ttl, err := g.ForceLogin(ctx, "alice", domain.SessionMetadata{})
	require.NoError(t, err)
	assert.NotEqual(t, s.SessionID, fresh.SessionID)
	assert.Equal(t, time.Hour, ttl)

	_, err = sessions.Validate(ctx, "user-alice", s.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	require.Eventually(t, func() bool {
		types := oldConn.types()
		return len(types) == 1 && types[0] == "session_ended"
	}, time.Second, time.Millisecond)
	assert.Equal(t, hub.ReasonDuplicateLogin, oldClient.CloseReason())
}
