package room

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/ai"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/timeline"
)

type nopConn struct{}

func (nopConn) WriteJSON(v interface{}) error                { return nil }
func (nopConn) WriteMessage(messageType int, d []byte) error { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error           { return nil }
func (nopConn) Close() error                                 { return nil }

type idleGenerator struct{}

func (idleGenerator) Generate(ctx context.Context, persona, query string, cb ai.Callbacks) {}

type fixture struct {
	kv        *store.MemoryKV
	dir       *Directory
	tl        *timeline.Store
	paginator *timeline.Paginator
	relay     *ai.Relay
	hub       *hub.Hub
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	kv := store.NewMemoryKV()
	tl := timeline.NewStore(kv, "test")
	pg := timeline.NewPaginator(tl, timeline.PaginatorOptions{
		Timeout:     time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	})
	h := hub.New()
	relay := ai.NewRelay(idleGenerator{}, tl, h, log)
	dir := NewDirectory(kv, "test")
	return &fixture{
		kv:        kv,
		dir:       dir,
		tl:        tl,
		paginator: pg,
		relay:     relay,
		hub:       h,
		coord:     NewCoordinator(dir, tl, pg, relay, h, 30, log),
	}
}

func (f *fixture) saveRoom(t *testing.T, id, password string) {
	t.Helper()
	r := &domain.Room{ID: id, Name: id, Creator: "creator", CreatedAt: time.Now().UnixMilli()}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		r.PasswordHash = string(hash)
	}
	require.NoError(t, f.dir.Save(context.Background(), r))
}

func (f *fixture) client(userID string) *hub.Client {
	c := hub.NewClient(userID, userID+"-sock", &nopConn{})
	f.hub.AddClient(c)
	return c
}

// countSystem counts system messages in the room whose content contains verb.
func (f *fixture) countSystem(t *testing.T, roomID, verb string) int {
	t.Helper()
	page, err := f.paginator.LoadPage(context.Background(), roomID, nil, 100)
	require.NoError(t, err)
	n := 0
	for _, m := range page.Messages {
		if m.Type == domain.MessageSystem && strings.Contains(m.Content, verb) {
			n++
		}
	}
	return n
}

func TestJoinLeaveRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "general", "")
	alice := f.client("alice")

	res, err := f.coord.JoinRoom(ctx, alice, "general", "")
	require.NoError(t, err)
	assert.Equal(t, "general", res.RoomID)
	assert.Len(t, res.Participants, 1)

	got, ok := f.coord.CurrentRoom("alice")
	require.True(t, ok)
	assert.Equal(t, "general", got)

	require.NoError(t, f.coord.LeaveRoom(ctx, alice, "general"))

	_, ok = f.coord.CurrentRoom("alice")
	assert.False(t, ok)
	ids, err := f.dir.Participants(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.hub.Subscribers("general"))
	assert.Equal(t, 1, f.countSystem(t, "general", "joined the room"))
	assert.Equal(t, 1, f.countSystem(t, "general", "left the room"))
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "general", "")
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(ctx, alice, "general", "")
	require.NoError(t, err)
	res, err := f.coord.JoinRoom(ctx, alice, "general", "")
	require.NoError(t, err)

	assert.Len(t, res.Participants, 1)
	assert.Equal(t, 1, f.countSystem(t, "general", "joined the room"))
}

func TestJoinDifferentRoomLeavesImplicitly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "alpha", "")
	f.saveRoom(t, "beta", "")
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(ctx, alice, "alpha", "")
	require.NoError(t, err)
	_, err = f.coord.JoinRoom(ctx, alice, "beta", "")
	require.NoError(t, err)

	got, ok := f.coord.CurrentRoom("alice")
	require.True(t, ok)
	assert.Equal(t, "beta", got)

	alphaIDs, err := f.dir.Participants(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, alphaIDs)
	assert.Equal(t, 1, f.countSystem(t, "alpha", "left the room"))
	betaIDs, err := f.dir.Participants(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, betaIDs)
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(context.Background(), alice, "ghost", "")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func TestJoinPasswordGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "vault", "opensesame")
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(ctx, alice, "vault", "wrong")
	assert.ErrorIs(t, err, apperrors.ErrAuthorization)
	_, ok := f.coord.CurrentRoom("alice")
	assert.False(t, ok)

	res, err := f.coord.JoinRoom(ctx, alice, "vault", "opensesame")
	require.NoError(t, err)
	assert.Equal(t, "vault", res.RoomID)
}

func TestLeaveOtherRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "general", "")
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(ctx, alice, "general", "")
	require.NoError(t, err)
	require.NoError(t, f.coord.LeaveRoom(ctx, alice, "elsewhere"))

	got, ok := f.coord.CurrentRoom("alice")
	require.True(t, ok)
	assert.Equal(t, "general", got)
}

func TestDisconnectSuppressesIntentionalCloses(t *testing.T) {
	for _, reason := range []string{hub.ReasonClientClose, hub.ReasonDuplicateLogin} {
		t.Run(reason, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.saveRoom(t, "general", "")
			alice := f.client("alice")

			_, err := f.coord.JoinRoom(ctx, alice, "general", "")
			require.NoError(t, err)
			alice.Close(reason)
			f.coord.Disconnect(ctx, alice)

			ids, err := f.dir.Participants(ctx, "general")
			require.NoError(t, err)
			assert.Empty(t, ids)
			assert.Equal(t, 0, f.countSystem(t, "general", "lost connection"))
		})
	}
}

func TestDisconnectAbnormalAnnouncesLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "general", "")
	alice := f.client("alice")

	_, err := f.coord.JoinRoom(ctx, alice, "general", "")
	require.NoError(t, err)
	alice.Close("")
	f.coord.Disconnect(ctx, alice)

	assert.Equal(t, 1, f.countSystem(t, "general", "lost connection"))
}

func TestStaleSocketDisconnectLeavesSuccessorAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveRoom(t, "general", "")

	oldConn := hub.NewClient("alice", "sock-old", &nopConn{})
	f.hub.AddClient(oldConn)
	_, err := f.coord.JoinRoom(ctx, oldConn, "general", "")
	require.NoError(t, err)

	// duplicate login: the successor re-joins, then the evicted socket drops
	newConn := hub.NewClient("alice", "sock-new", &nopConn{})
	f.hub.AddClient(newConn)
	_, err = f.coord.JoinRoom(ctx, newConn, "general", "")
	require.NoError(t, err)

	oldConn.Close(hub.ReasonDuplicateLogin)
	f.coord.Disconnect(ctx, oldConn)

	got, ok := f.coord.CurrentRoom("alice")
	require.True(t, ok)
	assert.Equal(t, "general", got)
	ids, err := f.dir.Participants(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}
