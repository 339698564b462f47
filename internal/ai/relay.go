// Package ai relays streamed model responses into rooms. Each generation is
// an ephemeral session accumulating chunks in memory; only the completed
// response is persisted to the timeline.
package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/metrics"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/timeline"
)

// Personas recognized in @mentions.
const (
	PersonaWayne      = "wayneAI"
	PersonaConsulting = "consultingAI"
)

var mentionPattern = regexp.MustCompile(`@(wayneAI|consultingAI)\b`)

// Usage is the token accounting reported by the generator on completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Callbacks deliver a generation's streamed output.
type Callbacks struct {
	OnChunk    func(chunk string)
	OnComplete func(final string, usage Usage)
	OnError    func(err error)
}

// Generator is the external streaming model collaborator.
type Generator interface {
	Generate(ctx context.Context, persona, query string, cb Callbacks)
}

// Stream is the public view of an in-flight generation, reported to joining
// clients.
type Stream struct {
	ID         string `json:"id"`
	Persona    string `json:"aiType"`
	RoomID     string `json:"room"`
	UserID     string `json:"userId"`
	Query      string `json:"-"`
	Content    string `json:"content"`
	StartedAt  int64  `json:"startedAt"`
	LastUpdate int64  `json:"lastUpdate"`
}

type Relay struct {
	gen   Generator
	store *timeline.Store
	hub   *hub.Hub
	log   *zap.SugaredLogger

	mu      sync.Mutex
	streams map[string]*Stream

	now func() time.Time
}

func NewRelay(gen Generator, store *timeline.Store, h *hub.Hub, log *zap.SugaredLogger) *Relay {
	return &Relay{
		gen:     gen,
		store:   store,
		hub:     h,
		log:     log,
		streams: make(map[string]*Stream),
		now:     time.Now,
	}
}

// SetClock overrides the stream clock, for tests.
func (r *Relay) SetClock(now func() time.Time) { r.now = now }

// ExtractMentions returns the distinct personas mentioned, in order of first
// appearance.
func ExtractMentions(content string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// StripMentions removes every persona mention token from the query text.
func StripMentions(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, ""))
}

// HandleMessage starts one independent generation per persona mentioned in
// content. Generations in the same room do not block each other or ordinary
// chat.
func (r *Relay) HandleMessage(ctx context.Context, roomID, userID, content string) {
	personas := ExtractMentions(content)
	if len(personas) == 0 {
		return
	}
	query := StripMentions(content)
	for _, persona := range personas {
		r.start(ctx, roomID, userID, persona, query)
	}
}

func (r *Relay) start(ctx context.Context, roomID, userID, persona, query string) {
	startedAt := r.now().UnixMilli()
	streamID := fmt.Sprintf("%s-%d", persona, startedAt)

	s := &Stream{
		ID:         streamID,
		Persona:    persona,
		RoomID:     roomID,
		UserID:     userID,
		Query:      query,
		StartedAt:  startedAt,
		LastUpdate: startedAt,
	}
	r.mu.Lock()
	r.streams[streamID] = s
	r.mu.Unlock()

	r.hub.Broadcast(roomID, hub.Envelope{Type: "aiMessageStart", Payload: map[string]any{
		"messageId": streamID,
		"room":      roomID,
		"aiType":    persona,
		"timestamp": startedAt,
	}})

	go r.gen.Generate(ctx, persona, query, Callbacks{
		OnChunk:    func(chunk string) { r.onChunk(streamID, chunk) },
		OnComplete: func(final string, usage Usage) { r.onComplete(ctx, streamID, final, usage) },
		OnError:    func(err error) { r.onError(streamID, err) },
	})
}

func (r *Relay) onChunk(streamID, chunk string) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	if !ok {
		// session cleared by leave/disconnect, drop the chunk
		r.mu.Unlock()
		return
	}
	s.Content += chunk
	s.LastUpdate = r.now().UnixMilli()
	roomID := s.RoomID
	persona := s.Persona
	full := s.Content
	r.mu.Unlock()

	r.hub.Broadcast(roomID, hub.Envelope{Type: "aiMessageChunk", Payload: map[string]any{
		"messageId":    streamID,
		"currentChunk": chunk,
		"fullContent":  full,
		"aiType":       persona,
		"isCodeBlock":  insideCodeBlock(full),
	}})
}

func (r *Relay) onComplete(ctx context.Context, streamID, final string, usage Usage) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	if ok {
		delete(r.streams, streamID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	msg, err := r.store.Append(ctx, s.RoomID, timeline.AppendInput{
		Type:    domain.MessageAI,
		Content: final,
		Sender:  s.Persona,
		AIType:  s.Persona,
		Metadata: &domain.AIMetadata{
			Query:            s.Query,
			GenerationTimeMS: r.now().UnixMilli() - s.StartedAt,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		},
	})
	if err != nil {
		r.log.Errorw("persist ai message", "stream_id", streamID, "error", err)
		r.broadcastError(s, err)
		metrics.AIGenerations.WithLabelValues(s.Persona, "failed").Inc()
		return
	}
	metrics.AIGenerations.WithLabelValues(s.Persona, "completed").Inc()

	r.hub.Broadcast(s.RoomID, hub.Envelope{Type: "aiMessageComplete", Payload: map[string]any{
		"streamId":  streamID,
		"messageId": msg.ID,
		"message":   msg,
	}})
}

func (r *Relay) onError(streamID string, genErr error) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	if ok {
		delete(r.streams, streamID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	metrics.AIGenerations.WithLabelValues(s.Persona, "failed").Inc()
	r.log.Warnw("ai generation failed", "stream_id", streamID, "error", genErr)
	r.broadcastError(s, genErr)
}

func (r *Relay) broadcastError(s *Stream, err error) {
	r.hub.Broadcast(s.RoomID, hub.Envelope{Type: "aiMessageError", Payload: map[string]any{
		"streamId": s.ID,
		"aiType":   s.Persona,
		"error":    err.Error(),
	}})
}

// ActiveStreams lists in-flight generations for the room, for join hydration.
func (r *Relay) ActiveStreams(roomID string) []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Stream
	for _, s := range r.streams {
		if s.RoomID == roomID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out
}

// ClearUser removes every streaming session the user initiated in the room.
// Late callbacks for a removed session are dropped without persisting.
func (r *Relay) ClearUser(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.streams {
		if s.RoomID == roomID && s.UserID == userID {
			delete(r.streams, id)
		}
	}
}

// insideCodeBlock reports whether the accumulated content currently sits
// inside an unclosed ``` fence.
func insideCodeBlock(content string) bool {
	return strings.Count(content, "```")%2 == 1
}
