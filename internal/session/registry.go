// Package session keeps the single-active-session bookkeeping for each user.
//
// Every session is spread over four records: the session data hash, a reverse
// sessionId -> userId lookup, the active-session pointer and the user-session
// pointer. The four writes are not atomic as a group; validation treats any
// missing or mismatched record as an invalid session and wipes the rest, so a
// crash mid-sequence heals on the next read instead of wedging the user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
)

const DefaultTTL = 24 * time.Hour

type Registry struct {
	kv     store.KV
	prefix string
	ttl    time.Duration

	now func() time.Time
}

func NewRegistry(kv store.KV, prefix string, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{kv: kv, prefix: prefix, ttl: ttl, now: time.Now}
}

// SetClock overrides the registry clock, for expiry tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

func (r *Registry) dataKey(userID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, userID)
}

func (r *Registry) lookupKey(sessionID string) string {
	return fmt.Sprintf("%s:session_lookup:%s", r.prefix, sessionID)
}

func (r *Registry) activeKey(userID string) string {
	return fmt.Sprintf("%s:active_session:%s", r.prefix, userID)
}

func (r *Registry) userKey(userID string) string {
	return fmt.Sprintf("%s:user_session:%s", r.prefix, userID)
}

// Create invalidates every prior session for the user, then writes a fresh
// one. Returns the new session and its TTL.
func (r *Registry) Create(ctx context.Context, userID string, meta domain.SessionMetadata) (*domain.Session, time.Duration, error) {
	if err := r.RemoveAll(ctx, userID); err != nil {
		return nil, 0, fmt.Errorf("invalidate prior sessions: %w", err)
	}

	now := r.now().UnixMilli()
	s := &domain.Session{
		UserID:       userID,
		SessionID:    uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     meta,
	}
	if err := r.writeAll(ctx, s); err != nil {
		return nil, 0, err
	}
	return s, r.ttl, nil
}

func (r *Registry) writeAll(ctx context.Context, s *domain.Session) error {
	fields := map[string]string{
		"sessionId":    s.SessionID,
		"createdAt":    strconv.FormatInt(s.CreatedAt, 10),
		"lastActivity": strconv.FormatInt(s.LastActivity, 10),
		"userAgent":    s.Metadata.UserAgent,
		"ipAddress":    s.Metadata.IPAddress,
		"deviceInfo":   s.Metadata.DeviceInfo,
	}
	if err := r.kv.HSetAll(ctx, r.dataKey(s.UserID), fields, r.ttl); err != nil {
		return fmt.Errorf("write session data: %w", err)
	}
	if err := r.kv.Set(ctx, r.lookupKey(s.SessionID), s.UserID, r.ttl); err != nil {
		return fmt.Errorf("write session lookup: %w", err)
	}
	if err := r.kv.Set(ctx, r.activeKey(s.UserID), s.SessionID, r.ttl); err != nil {
		return fmt.Errorf("write active pointer: %w", err)
	}
	if err := r.kv.Set(ctx, r.userKey(s.UserID), s.SessionID, r.ttl); err != nil {
		return fmt.Errorf("write user pointer: %w", err)
	}
	return nil
}

// Validate checks that sessionID is the user's active session and slides its
// expiry forward. Any invalid outcome wipes the user's session records.
func (r *Registry) Validate(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	active, err := r.kv.Get(ctx, r.activeKey(userID))
	if errors.Is(err, store.ErrNotFound) || (err == nil && active != sessionID) {
		_ = r.RemoveAll(ctx, userID)
		return nil, apperrors.ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("read active pointer: %w", err)
	}

	fields, err := r.kv.HGetAll(ctx, r.dataKey(userID))
	if err != nil {
		return nil, fmt.Errorf("read session data: %w", err)
	}
	s, ok := parseSession(userID, fields)
	if !ok || s.SessionID != sessionID {
		_ = r.RemoveAll(ctx, userID)
		return nil, apperrors.ErrInvalidSession
	}

	now := r.now()
	if now.UnixMilli()-s.LastActivity > r.ttl.Milliseconds() {
		_ = r.RemoveAll(ctx, userID)
		return nil, apperrors.ErrSessionExpired
	}

	s.LastActivity = now.UnixMilli()
	if err := r.writeAll(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// RemoveAll deletes the four session records for the user. Idempotent.
func (r *Registry) RemoveAll(ctx context.Context, userID string) error {
	keys := []string{r.dataKey(userID), r.activeKey(userID), r.userKey(userID)}
	if active, err := r.kv.Get(ctx, r.activeKey(userID)); err == nil && active != "" {
		keys = append(keys, r.lookupKey(active))
	}
	return r.kv.Del(ctx, keys...)
}

func parseSession(userID string, fields map[string]string) (*domain.Session, bool) {
	if len(fields) == 0 || fields["sessionId"] == "" {
		return nil, false
	}
	createdAt, err := strconv.ParseInt(fields["createdAt"], 10, 64)
	if err != nil {
		return nil, false
	}
	lastActivity, err := strconv.ParseInt(fields["lastActivity"], 10, 64)
	if err != nil {
		return nil, false
	}
	return &domain.Session{
		UserID:       userID,
		SessionID:    fields["sessionId"],
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
		Metadata: domain.SessionMetadata{
			UserAgent:  fields["userAgent"],
			IPAddress:  fields["ipAddress"],
			DeviceInfo: fields["deviceInfo"],
		},
	}, true
}
