// Package room coordinates membership: join/leave/disconnect lifecycle,
// participant upkeep, presence broadcasts and system messages.
package room

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/ai"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/timeline"
)

// JoinResult is the payload of the joinRoomSuccess ack.
type JoinResult struct {
	RoomID          string               `json:"roomId"`
	Participants    []domain.Participant `json:"participants"`
	Messages        []*domain.Message    `json:"messages"`
	HasMore         bool                 `json:"hasMore"`
	OldestTimestamp *int64               `json:"oldestTimestamp"`
	ActiveStreams   []*ai.Stream         `json:"activeStreams"`
}

type occupancy struct {
	roomID   string
	socketID string
}

type Coordinator struct {
	dir       *Directory
	timeline  *timeline.Store
	paginator *timeline.Paginator
	relay     *ai.Relay
	hub       *hub.Hub
	log       *zap.SugaredLogger
	pageSize  int

	mu      sync.Mutex
	current map[string]occupancy // userID -> joined room + owning socket
}

func NewCoordinator(dir *Directory, tl *timeline.Store, pg *timeline.Paginator, relay *ai.Relay, h *hub.Hub, pageSize int, log *zap.SugaredLogger) *Coordinator {
	if pageSize <= 0 {
		pageSize = timeline.DefaultPageSize
	}
	return &Coordinator{
		dir:       dir,
		timeline:  tl,
		paginator: pg,
		relay:     relay,
		hub:       h,
		log:       log,
		pageSize:  pageSize,
		current:   make(map[string]occupancy),
	}
}

// CurrentRoom returns the room the user currently occupies, if any.
func (c *Coordinator) CurrentRoom(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	occ, ok := c.current[userID]
	return occ.roomID, ok
}

// JoinRoom admits the client into roomID. Idempotent when already there; a
// different current room is implicitly left first. Password-protected rooms
// require the matching password.
func (c *Coordinator) JoinRoom(ctx context.Context, client *hub.Client, roomID, password string) (*JoinResult, error) {
	userID := client.UserID

	c.mu.Lock()
	occ, joined := c.current[userID]
	if joined && occ.roomID == roomID {
		// already here; take ownership for this socket and rebuild the ack
		// without touching membership
		c.current[userID] = occupancy{roomID: roomID, socketID: client.SocketID}
		c.mu.Unlock()
		return c.hydrate(ctx, roomID, userID)
	}
	c.mu.Unlock()
	if joined {
		if err := c.LeaveRoom(ctx, client, occ.roomID); err != nil {
			return nil, err
		}
	}

	r, err := c.dir.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.HasPassword() {
		if bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) != nil {
			return nil, fmt.Errorf("%w: wrong room password", apperrors.ErrAuthorization)
		}
	}

	if err := c.dir.AddParticipant(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	c.hub.Subscribe(roomID, userID)
	c.mu.Lock()
	c.current[userID] = occupancy{roomID: roomID, socketID: client.SocketID}
	c.mu.Unlock()

	joinMsg, err := c.timeline.Append(ctx, roomID, timeline.AppendInput{
		Type:    domain.MessageSystem,
		Content: fmt.Sprintf("%s joined the room", userID),
		Sender:  domain.SystemSender,
	})
	if err != nil {
		c.log.Errorw("append join message", "room", roomID, "user_id", userID, "error", err)
	}

	res, err := c.hydrate(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	if joinMsg != nil {
		c.hub.Broadcast(roomID, hub.Envelope{Type: "message", Payload: joinMsg})
	}
	c.broadcastParticipants(ctx, roomID)
	return res, nil
}

func (c *Coordinator) hydrate(ctx context.Context, roomID, userID string) (*JoinResult, error) {
	page, err := c.paginator.LoadPageWithRetry(ctx, roomID, userID, nil, c.pageSize)
	if err != nil {
		return nil, err
	}
	if page == nil {
		// a load for this pair is already in flight; hand back an empty page
		page = &timeline.Page{}
	}

	ids, err := c.dir.Participants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return &JoinResult{
		RoomID:          roomID,
		Participants:    toParticipants(ids),
		Messages:        page.Messages,
		HasMore:         page.HasMore,
		OldestTimestamp: page.OldestTimestamp,
		ActiveStreams:   c.relay.ActiveStreams(roomID),
	}, nil
}

// LeaveRoom removes the client from roomID. No-op when the user's current
// room differs from the argument.
func (c *Coordinator) LeaveRoom(ctx context.Context, client *hub.Client, roomID string) error {
	userID := client.UserID

	c.mu.Lock()
	occ, ok := c.current[userID]
	if !ok || occ.roomID != roomID {
		c.mu.Unlock()
		return nil
	}
	delete(c.current, userID)
	c.mu.Unlock()

	c.hub.Unsubscribe(roomID, userID)
	c.cleanup(ctx, roomID, userID)

	leaveMsg, err := c.timeline.Append(ctx, roomID, timeline.AppendInput{
		Type:    domain.MessageSystem,
		Content: fmt.Sprintf("%s left the room", userID),
		Sender:  domain.SystemSender,
	})
	if err != nil {
		c.log.Errorw("append leave message", "room", roomID, "user_id", userID, "error", err)
	} else {
		c.hub.Broadcast(roomID, hub.Envelope{Type: "message", Payload: leaveMsg})
	}
	c.broadcastParticipants(ctx, roomID)
	return nil
}

// Disconnect runs leave cleanup for an ungraceful drop. Intentional closes
// and duplicate-login evictions skip the system message so a login handoff
// does not spray join/leave noise.
func (c *Coordinator) Disconnect(ctx context.Context, client *hub.Client) {
	userID := client.UserID

	c.mu.Lock()
	occ, ok := c.current[userID]
	if !ok || occ.socketID != client.SocketID {
		// room is owned by a newer connection, leave its state alone
		c.mu.Unlock()
		return
	}
	delete(c.current, userID)
	c.mu.Unlock()

	roomID := occ.roomID
	c.hub.Unsubscribe(roomID, userID)
	c.cleanup(ctx, roomID, userID)

	reason := client.CloseReason()
	if reason != hub.ReasonClientClose && reason != hub.ReasonDuplicateLogin {
		lostMsg, err := c.timeline.Append(ctx, roomID, timeline.AppendInput{
			Type:    domain.MessageSystem,
			Content: fmt.Sprintf("%s lost connection", userID),
			Sender:  domain.SystemSender,
		})
		if err != nil {
			c.log.Errorw("append disconnect message", "room", roomID, "user_id", userID, "error", err)
		} else {
			c.hub.Broadcast(roomID, hub.Envelope{Type: "message", Payload: lostMsg})
		}
	}
	c.broadcastParticipants(ctx, roomID)
}

// cleanup clears membership and the per-(room,user) bookkeeping that must not
// survive the user leaving.
func (c *Coordinator) cleanup(ctx context.Context, roomID, userID string) {
	if err := c.dir.RemoveParticipant(ctx, roomID, userID); err != nil {
		c.log.Errorw("remove participant", "room", roomID, "user_id", userID, "error", err)
	}
	c.relay.ClearUser(roomID, userID)
	c.paginator.ClearFor(roomID, userID)
}

func (c *Coordinator) broadcastParticipants(ctx context.Context, roomID string) {
	ids, err := c.dir.Participants(ctx, roomID)
	if err != nil {
		c.log.Errorw("list participants", "room", roomID, "error", err)
		return
	}
	c.hub.Broadcast(roomID, hub.Envelope{Type: "participantsUpdate", Payload: map[string]any{
		"roomId":       roomID,
		"participants": toParticipants(ids),
	}})
}

func toParticipants(ids []string) []domain.Participant {
	out := make([]domain.Participant, len(ids))
	for i, id := range ids {
		out[i] = domain.Participant{ID: id}
	}
	return out
}
