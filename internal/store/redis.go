package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV adapts a go-redis client to the KV contract.
type RedisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

// Ping verifies connectivity at startup.
func (s *RedisKV) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

func (s *RedisKV) HSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	if ttl > 0 {
		return s.rdb.Expire(ctx, key, ttl).Err()
	}
	return nil
}

func (s *RedisKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *RedisKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisKV) ZRem(ctx context.Context, key, member string) error {
	return s.rdb.ZRem(ctx, key, member).Err()
}

func (s *RedisKV) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

func (s *RedisKV) ZRevRangeByScore(ctx context.Context, key string, max float64, exclusive bool, count int64) ([]string, error) {
	maxStr := "+inf"
	if !math.IsInf(max, 1) {
		maxStr = strconv.FormatFloat(max, 'f', -1, 64)
		if exclusive {
			maxStr = fmt.Sprintf("(%s", maxStr)
		}
	}
	return s.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxStr,
		Count: count,
	}).Result()
}

func (s *RedisKV) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SAdd(ctx, key, args...).Err()
}

func (s *RedisKV) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.SRem(ctx, key, args...).Err()
}

func (s *RedisKV) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.rdb.SMembers(ctx, key).Result()
}

func (s *RedisKV) Type(ctx context.Context, key string) (string, error) {
	return s.rdb.Type(ctx, key).Result()
}
