package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/ai"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/gate"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/metrics"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/room"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/timeline"
)

// inbound is the client -> server frame. Payload stays raw until the event
// type picks its shape.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Handler struct {
	gate      *gate.Gatekeeper
	coord     *room.Coordinator
	timeline  *timeline.Store
	paginator *timeline.Paginator
	relay     *ai.Relay
	hub       *hub.Hub
	log       *zap.SugaredLogger

	pageSize      int
	readDeadline  time.Duration
	pingInterval  time.Duration
	writeDeadline time.Duration
	maxMsgSize    int64
}

type HandlerOptions struct {
	PageSize      int
	ReadDeadline  time.Duration
	PingInterval  time.Duration
	WriteDeadline time.Duration
	MaxMsgSize    int64
}

func NewHandler(g *gate.Gatekeeper, coord *room.Coordinator, tl *timeline.Store, pg *timeline.Paginator, relay *ai.Relay, h *hub.Hub, opts HandlerOptions, log *zap.SugaredLogger) *Handler {
	if opts.PageSize <= 0 {
		opts.PageSize = timeline.DefaultPageSize
	}
	if opts.ReadDeadline <= 0 {
		opts.ReadDeadline = 60 * time.Second
	}
	if opts.MaxMsgSize <= 0 {
		opts.MaxMsgSize = 65536
	}
	return &Handler{
		gate:          g,
		coord:         coord,
		timeline:      tl,
		paginator:     pg,
		relay:         relay,
		hub:           h,
		log:           log,
		pageSize:      opts.PageSize,
		readDeadline:  opts.ReadDeadline,
		pingInterval:  opts.PingInterval,
		writeDeadline: opts.WriteDeadline,
		maxMsgSize:    opts.MaxMsgSize,
	}
}

// HandleWS runs one connection: handshake through the gatekeeper, then the
// read loop until the peer goes away.
func (h *Handler) HandleWS(c *websocket.Conn) {
	ctx := context.Background()

	creds := gate.Credentials{
		Token:     c.Query("token"),
		SessionID: c.Query("sessionId"),
		Metadata: domain.SessionMetadata{
			UserAgent:  c.Headers("User-Agent"),
			IPAddress:  c.RemoteAddr().String(),
			DeviceInfo: c.Query("device"),
		},
	}

	client, err := h.gate.Admit(ctx, c, creds)
	if err != nil {
		// auth and session failures terminate the attempt, no retry
		_ = c.WriteJSON(hub.Envelope{Type: "error", Payload: errorPayload(err)})
		_ = c.Close()
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	h.log.Infow("client connected", "user_id", client.UserID, "socket_id", client.SocketID)

	client.SetKeepalive(h.pingInterval, h.writeDeadline)
	go client.WritePump()

	c.SetReadLimit(h.maxMsgSize)
	_ = c.SetReadDeadline(time.Now().Add(h.readDeadline))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.readDeadline))
	})

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.Close(hub.ReasonClientClose)
			}
			break
		}
		_ = c.SetReadDeadline(time.Now().Add(h.readDeadline))

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(client, fmt.Errorf("%w: malformed frame", apperrors.ErrValidation))
			continue
		}
		h.dispatch(ctx, client, frame)
	}

	client.Close("")
	h.hub.RemoveClient(client)
	h.coord.Disconnect(ctx, client)
	h.log.Infow("client disconnected", "user_id", client.UserID, "socket_id", client.SocketID,
		"reason", client.CloseReason())
}

// dispatch routes one frame. Handler-level failures become an error event on
// the originating connection and never tear anything down.
func (h *Handler) dispatch(ctx context.Context, client *hub.Client, frame inbound) {
	switch frame.Type {
	case "joinRoom":
		h.onJoinRoom(ctx, client, frame.Payload)
	case "leaveRoom":
		h.onLeaveRoom(ctx, client, frame.Payload)
	case "chatMessage":
		h.onChatMessage(ctx, client, frame.Payload)
	case "fetchPreviousMessages":
		h.onFetchPrevious(ctx, client, frame.Payload)
	case "markMessagesAsRead":
		h.onMarkRead(ctx, client, frame.Payload)
	case "messageReaction":
		h.onReaction(ctx, client, frame.Payload)
	case "force_login":
		h.onForceLogin(ctx, client, frame.Payload)
	case "typing":
		h.onTyping(client, frame.Payload)
	default:
		h.sendError(client, fmt.Errorf("%w: unknown event %q", apperrors.ErrValidation, frame.Type))
	}
}

func (h *Handler) onJoinRoom(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		RoomID   string `json:"roomId"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		h.sendError(client, fmt.Errorf("%w: joinRoom requires roomId", apperrors.ErrValidation))
		return
	}
	res, err := h.coord.JoinRoom(ctx, client, p.RoomID, p.Password)
	if err != nil {
		client.Send(hub.Envelope{Type: "joinRoomError", Payload: map[string]any{
			"message": err.Error(),
		}})
		return
	}
	client.Send(hub.Envelope{Type: "joinRoomSuccess", Payload: res})
}

func (h *Handler) onLeaveRoom(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		h.sendError(client, fmt.Errorf("%w: leaveRoom requires roomId", apperrors.ErrValidation))
		return
	}
	if err := h.coord.LeaveRoom(ctx, client, p.RoomID); err != nil {
		h.sendError(client, err)
	}
}

func (h *Handler) onChatMessage(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		Room     string          `json:"room"`
		Type     string          `json:"type"`
		Content  string          `json:"content"`
		FileData *domain.FileRef `json:"fileData"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(client, fmt.Errorf("%w: malformed chatMessage", apperrors.ErrValidation))
		return
	}

	roomID, ok := h.coord.CurrentRoom(client.UserID)
	if !ok || (p.Room != "" && p.Room != roomID) {
		h.sendError(client, fmt.Errorf("%w: not a participant of the room", apperrors.ErrAuthorization))
		return
	}

	in := timeline.AppendInput{Sender: client.UserID}
	switch domain.MessageType(p.Type) {
	case domain.MessageText:
		if p.Content == "" {
			h.sendError(client, fmt.Errorf("%w: empty message", apperrors.ErrValidation))
			return
		}
		in.Type = domain.MessageText
		in.Content = p.Content
	case domain.MessageFile:
		if p.FileData == nil || p.FileData.ID == "" {
			h.sendError(client, fmt.Errorf("%w: file message without file reference", apperrors.ErrValidation))
			return
		}
		in.Type = domain.MessageFile
		in.Content = p.Content
		in.File = p.FileData
	default:
		h.sendError(client, fmt.Errorf("%w: clients may only send text or file messages", apperrors.ErrValidation))
		return
	}

	msg, err := h.timeline.Append(ctx, roomID, in)
	if err != nil {
		h.sendError(client, err)
		return
	}
	metrics.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()
	h.hub.Broadcast(roomID, hub.Envelope{Type: "message", Payload: msg})

	if msg.Type == domain.MessageText {
		h.relay.HandleMessage(ctx, roomID, client.UserID, msg.Content)
	}
}

func (h *Handler) onFetchPrevious(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		RoomID   string `json:"roomId"`
		Before   *int64 `json:"before"`
		BeforeID string `json:"beforeId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		h.sendError(client, fmt.Errorf("%w: fetchPreviousMessages requires roomId", apperrors.ErrValidation))
		return
	}
	if cur, ok := h.coord.CurrentRoom(client.UserID); !ok || cur != p.RoomID {
		h.sendError(client, fmt.Errorf("%w: not a participant of the room", apperrors.ErrAuthorization))
		return
	}

	var before *timeline.Cursor
	if p.Before != nil {
		before = &timeline.Cursor{Ts: *p.Before, ID: p.BeforeID}
	}
	client.Send(hub.Envelope{Type: "messageLoadStart"})
	page, err := h.paginator.LoadPageWithRetry(ctx, p.RoomID, client.UserID, before, h.pageSize)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if page == nil {
		// duplicate in-flight request, dropped
		return
	}
	client.Send(hub.Envelope{Type: "previousMessagesLoaded", Payload: page})
}

func (h *Handler) onMarkRead(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		RoomID     string   `json:"roomId"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" || len(p.MessageIDs) == 0 {
		h.sendError(client, fmt.Errorf("%w: markMessagesAsRead requires roomId and messageIds", apperrors.ErrValidation))
		return
	}
	if cur, ok := h.coord.CurrentRoom(client.UserID); !ok || cur != p.RoomID {
		h.sendError(client, fmt.Errorf("%w: not a participant of the room", apperrors.ErrAuthorization))
		return
	}
	// fire and forget for the caller; other members still learn about it
	marked, err := h.timeline.MarkRead(ctx, client.UserID, p.MessageIDs)
	if err != nil {
		h.log.Warnw("mark read", "user_id", client.UserID, "error", err)
	}
	if len(marked) == 0 {
		return
	}
	h.hub.Broadcast(p.RoomID, hub.Envelope{Type: "messagesRead", Payload: map[string]any{
		"userId":     client.UserID,
		"messageIds": marked,
	}})
}

func (h *Handler) onReaction(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		MessageID string `json:"messageId"`
		Reaction  string `json:"reaction"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" || p.Reaction == "" {
		h.sendError(client, fmt.Errorf("%w: messageReaction requires messageId and reaction", apperrors.ErrValidation))
		return
	}

	msg, err := h.timeline.Get(ctx, p.MessageID)
	if err != nil {
		h.sendError(client, err)
		return
	}

	var reactions map[string][]string
	switch p.Type {
	case "add":
		reactions, err = h.timeline.AddReaction(ctx, p.MessageID, p.Reaction, client.UserID)
	case "remove":
		reactions, err = h.timeline.RemoveReaction(ctx, p.MessageID, p.Reaction, client.UserID)
	default:
		h.sendError(client, fmt.Errorf("%w: reaction type must be add or remove", apperrors.ErrValidation))
		return
	}
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.Broadcast(msg.RoomID, hub.Envelope{Type: "messageReactionUpdate", Payload: map[string]any{
		"messageId": p.MessageID,
		"reactions": reactions,
	}})
}

func (h *Handler) onForceLogin(ctx context.Context, client *hub.Client, raw json.RawMessage) {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		h.sendError(client, fmt.Errorf("%w: force_login requires token", apperrors.ErrValidation))
		return
	}
	s, ttl, err := h.gate.ForceLogin(ctx, p.Token, domain.SessionMetadata{})
	if err != nil {
		h.sendError(client, err)
		return
	}
	client.Send(hub.Envelope{Type: "force_login_success", Payload: map[string]any{
		"sessionId": s.SessionID,
		"ttl":       ttl.Milliseconds(),
	}})
}

func (h *Handler) onTyping(client *hub.Client, raw json.RawMessage) {
	roomID, ok := h.coord.CurrentRoom(client.UserID)
	if !ok {
		return
	}
	var p struct {
		IsTyping bool `json:"isTyping"`
	}
	_ = json.Unmarshal(raw, &p)
	h.hub.Broadcast(roomID, hub.Envelope{Type: "typing", Payload: map[string]any{
		"userId":   client.UserID,
		"isTyping": p.IsTyping,
	}})
}

func (h *Handler) sendError(client *hub.Client, err error) {
	client.Send(hub.Envelope{Type: "error", Payload: errorPayload(err)})
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"code":    apperrors.Code(err),
		"message": err.Error(),
	}
}
