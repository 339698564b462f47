// Package timeline is the durable per-room message log: an append-only set of
// message records plus a per-room sorted index from creation timestamp to
// message id. Record and index are written as two separate operations, so
// readers must tolerate orphaned records and dangling index entries.
package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
)

// Publisher receives every message the store persists. Publication is
// best-effort and runs off the append path.
type Publisher interface {
	PublishPersisted(ctx context.Context, m *domain.Message) error
}

type Store struct {
	kv     store.KV
	prefix string
	pub    Publisher

	now func() time.Time
}

func NewStore(kv store.KV, prefix string) *Store {
	return &Store{kv: kv, prefix: prefix, now: time.Now}
}

// SetClock overrides the timestamp source, for ordering tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SetPublisher routes every appended message to pub.
func (s *Store) SetPublisher(pub Publisher) { s.pub = pub }

func (s *Store) messageKey(id string) string {
	return fmt.Sprintf("%s:message:%s", s.prefix, id)
}

func (s *Store) indexKey(roomID string) string {
	return fmt.Sprintf("%s:room:%s:timeline", s.prefix, roomID)
}

// AppendInput carries the caller-supplied half of a new message.
type AppendInput struct {
	Type     domain.MessageType
	Content  string
	Sender   string
	File     *domain.FileRef
	AIType   string
	Metadata *domain.AIMetadata
}

// Append assigns a server timestamp and id, persists the record, then inserts
// the (timestamp, id) pair into the room's index. A crash between the two
// writes leaves an orphan, which pagination skips.
func (s *Store) Append(ctx context.Context, roomID string, in AppendInput) (*domain.Message, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", apperrors.ErrValidation, in.Type)
	}
	if in.Type == domain.MessageText && len(in.Content) > domain.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d chars", apperrors.ErrValidation, domain.MaxContentLength)
	}

	m := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      in.Type,
		Content:   in.Content,
		Sender:    in.Sender,
		Timestamp: s.now().UnixMilli(),
		File:      in.File,
		AIType:    in.AIType,
		Metadata:  in.Metadata,
		Reactions: map[string][]string{},
		Readers:   []string{},
	}
	if err := s.put(ctx, m); err != nil {
		return nil, err
	}

	// Index keys holding a value of the wrong kind are reset before insert:
	// availability over historical recovery.
	idxKey := s.indexKey(roomID)
	if kind, err := s.kv.Type(ctx, idxKey); err == nil && kind != "none" && kind != "zset" {
		_ = s.kv.Del(ctx, idxKey)
	}
	if err := s.kv.ZAdd(ctx, idxKey, float64(m.Timestamp), m.ID); err != nil {
		return nil, fmt.Errorf("index message: %w", err)
	}

	if s.pub != nil {
		go func(m *domain.Message) {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.pub.PublishPersisted(pubCtx, m)
		}(m)
	}
	return m, nil
}

func (s *Store) put(ctx context.Context, m *domain.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.kv.Set(ctx, s.messageKey(m.ID), string(raw), 0); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Message, error) {
	raw, err := s.kv.Get(ctx, s.messageKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	var m domain.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &m, nil
}

// SoftDelete flags the message deleted without touching the index.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.IsDeleted {
		return nil
	}
	m.IsDeleted = true
	return s.put(ctx, m)
}

// AddReaction records userID under emoji. Idempotent; returns the updated
// reaction map.
func (s *Store) AddReaction(ctx context.Context, id, emoji, userID string) (map[string][]string, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.HasReaction(emoji, userID) {
		return m.Reactions, nil
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	if err := s.put(ctx, m); err != nil {
		return nil, err
	}
	return m.Reactions, nil
}

// RemoveReaction drops userID from emoji; removing the last user removes the
// emoji key entirely. No-op when the pair is absent.
func (s *Store) RemoveReaction(ctx context.Context, id, emoji, userID string) (map[string][]string, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	users, ok := m.Reactions[emoji]
	if !ok {
		return m.Reactions, nil
	}
	kept := users[:0]
	for _, u := range users {
		if u != userID {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(users) {
		return m.Reactions, nil
	}
	if len(kept) == 0 {
		delete(m.Reactions, emoji)
	} else {
		m.Reactions[emoji] = kept
	}
	if err := s.put(ctx, m); err != nil {
		return nil, err
	}
	return m.Reactions, nil
}

// MarkRead records userID as a reader of each message id. Unresolvable ids
// are skipped; returns the ids actually marked.
func (s *Store) MarkRead(ctx context.Context, userID string, ids []string) ([]string, error) {
	marked := make([]string, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if errors.Is(err, apperrors.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return marked, err
		}
		if m.HasReader(userID) {
			marked = append(marked, id)
			continue
		}
		m.Readers = append(m.Readers, userID)
		sort.Strings(m.Readers)
		if err := s.put(ctx, m); err != nil {
			return marked, err
		}
		marked = append(marked, id)
	}
	return marked, nil
}
