package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
)

func newRegistry(t *testing.T) (*Registry, *store.MemoryKV) {
	t.Helper()
	kv := store.NewMemoryKV()
	return NewRegistry(kv, "test", time.Hour), kv
}

func TestCreateAndValidate(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	s, ttl, err := r.Create(ctx, "u1", domain.SessionMetadata{UserAgent: "ua", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	require.NotEmpty(t, s.SessionID)
	assert.Equal(t, time.Hour, ttl)

	got, err := r.Validate(ctx, "u1", s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "ua", got.Metadata.UserAgent)
}

func TestSessionExclusivity(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	first, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)
	second, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	_, err = r.Validate(ctx, "u1", first.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	_, err = r.Validate(ctx, "u1", second.SessionID)
	require.NoError(t, err)
}

func TestValidateWrongIDWipesRecords(t *testing.T) {
	r, kv := newRegistry(t)
	ctx := context.Background()

	s, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	_, err = r.Validate(ctx, "u1", "bogus")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	// the invalid outcome wiped everything, so even the real id fails now
	_, err = r.Validate(ctx, "u1", s.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	ok, err := kv.Exists(ctx, "test:session:u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateExpired(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	now := time.Now()
	r.SetClock(func() time.Time { return now })

	s, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = r.Validate(ctx, "u1", s.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

func TestValidateSlidesExpiry(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	now := time.Now()
	r.SetClock(func() time.Time { return now })

	s, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	// touch the session every 40 minutes; the 1h TTL keeps sliding
	for i := 0; i < 3; i++ {
		now = now.Add(40 * time.Minute)
		_, err = r.Validate(ctx, "u1", s.SessionID)
		require.NoError(t, err)
	}
}

func TestPartialRecordsHealOnValidate(t *testing.T) {
	r, kv := newRegistry(t)
	ctx := context.Background()

	s, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	// simulate a crash that lost the data hash but kept the pointers
	require.NoError(t, kv.Del(ctx, "test:session:u1"))

	_, err = r.Validate(ctx, "u1", s.SessionID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	// remaining pointers were wiped, not left dangling
	_, err = kv.Get(ctx, "test:active_session:u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveAllIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, _, err := r.Create(ctx, "u1", domain.SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, r.RemoveAll(ctx, "u1"))
	require.NoError(t, r.RemoveAll(ctx, "u1"))
	require.NoError(t, r.RemoveAll(ctx, "never-logged-in"))
}
