// Package gate authenticates new connections and arbitrates duplicate logins.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/auth"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/metrics"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/session"
)

const DefaultGrace = 10 * time.Second

type Gatekeeper struct {
	verifier auth.TokenVerifier
	sessions *session.Registry
	hub      *hub.Hub
	log      *zap.SugaredLogger
	grace    time.Duration
}

func New(verifier auth.TokenVerifier, sessions *session.Registry, h *hub.Hub, grace time.Duration, log *zap.SugaredLogger) *Gatekeeper {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Gatekeeper{verifier: verifier, sessions: sessions, hub: h, grace: grace, log: log}
}

// Credentials is what a connecting client presents during the handshake.
type Credentials struct {
	Token     string
	SessionID string
	Metadata  domain.SessionMetadata
}

// Admit verifies the token and session, registers the connection as the sole
// live one for the user, and starts eviction of any previous connection. The
// new connection is admitted immediately; the old one gets a duplicate_login
// notice and is force-closed after the grace window.
func (g *Gatekeeper) Admit(ctx context.Context, conn hub.Conn, creds Credentials) (*hub.Client, error) {
	userID, err := g.verifier.Verify(creds.Token)
	if err != nil {
		return nil, err
	}
	if creds.SessionID == "" {
		return nil, fmt.Errorf("%w: session id missing", apperrors.ErrInvalidSession)
	}
	if _, err := g.sessions.Validate(ctx, userID, creds.SessionID); err != nil {
		return nil, err
	}

	client := hub.NewClient(userID, uuid.NewString(), conn)
	if old := g.hub.AddClient(client); old != nil {
		g.evict(old, creds.Metadata)
	}
	return client, nil
}

// ForceLogin creates a brand-new session for the token's user, superseding
// any active one, and evicts an existing live connection without waiting for
// the grace window. Returns the fresh session for the client to resume with.
func (g *Gatekeeper) ForceLogin(ctx context.Context, token string, meta domain.SessionMetadata) (*domain.Session, time.Duration, error) {
	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, 0, err
	}
	s, ttl, err := g.sessions.Create(ctx, userID, meta)
	if err != nil {
		return nil, 0, err
	}
	if old := g.hub.Client(userID); old != nil {
		old.Send(hub.Envelope{Type: "session_ended", Payload: map[string]any{
			"reason": "force_login",
		}})
		old.Close(hub.ReasonDuplicateLogin)
	}
	return s, ttl, nil
}

func (g *Gatekeeper) evict(old *hub.Client, newMeta domain.SessionMetadata) {
	metrics.DuplicateLogins.Inc()
	g.log.Infow("duplicate login, evicting previous connection",
		"user_id", old.UserID, "socket_id", old.SocketID)
	old.Send(hub.Envelope{Type: "duplicate_login", Payload: map[string]any{
		"deviceInfo": newMeta.DeviceInfo,
		"ipAddress":  newMeta.IPAddress,
		"userAgent":  newMeta.UserAgent,
		"timestamp":  time.Now().UnixMilli(),
	}})
	time.AfterFunc(g.grace, func() {
		old.Send(hub.Envelope{Type: "session_ended", Payload: map[string]any{
			"reason": "duplicate_login",
		}})
		old.Close(hub.ReasonDuplicateLogin)
	})
}
