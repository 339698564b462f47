package room

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
)

// Directory reads room metadata and maintains participant sets. Room creation
// and deletion belong to the REST surface; the core only needs lookups and
// membership writes.
type Directory struct {
	kv     store.KV
	prefix string
}

func NewDirectory(kv store.KV, prefix string) *Directory {
	return &Directory{kv: kv, prefix: prefix}
}

func (d *Directory) roomKey(id string) string {
	return fmt.Sprintf("%s:room:%s", d.prefix, id)
}

func (d *Directory) membersKey(id string) string {
	return fmt.Sprintf("%s:room:%s:members", d.prefix, id)
}

func (d *Directory) Get(ctx context.Context, id string) (*domain.Room, error) {
	fields, err := d.kv.HGetAll(ctx, d.roomKey(id))
	if err != nil {
		return nil, fmt.Errorf("read room: %w", err)
	}
	if len(fields) == 0 || fields["name"] == "" {
		return nil, apperrors.ErrRoomNotFound
	}
	createdAt, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	return &domain.Room{
		ID:           id,
		Name:         fields["name"],
		Creator:      fields["creator"],
		PasswordHash: fields["passwordHash"],
		CreatedAt:    createdAt,
	}, nil
}

// Save writes room metadata. Exposed for the REST surface and tests.
func (d *Directory) Save(ctx context.Context, r *domain.Room) error {
	fields := map[string]string{
		"name":         r.Name,
		"creator":      r.Creator,
		"passwordHash": r.PasswordHash,
		"createdAt":    strconv.FormatInt(r.CreatedAt, 10),
	}
	return d.kv.HSetAll(ctx, d.roomKey(r.ID), fields, 0)
}

func (d *Directory) AddParticipant(ctx context.Context, roomID, userID string) error {
	return d.kv.SAdd(ctx, d.membersKey(roomID), userID)
}

func (d *Directory) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	return d.kv.SRem(ctx, d.membersKey(roomID), userID)
}

func (d *Directory) Participants(ctx context.Context, roomID string) ([]string, error) {
	return d.kv.SMembers(ctx, d.membersKey(roomID))
}
