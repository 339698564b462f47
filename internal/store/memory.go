package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryKV is an in-process KV with the same semantics as the Redis adapter,
// including per-key TTL and reverse member order for equal zset scores. Unit
// tests run against it.
type MemoryKV struct {
	mu       sync.Mutex
	strings  map[string]string
	hashes   map[string]map[string]string
	zsets    map[string]map[string]float64
	sets     map[string]map[string]struct{}
	expireAt map[string]time.Time

	now func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		strings:  make(map[string]string),
		hashes:   make(map[string]map[string]string),
		zsets:    make(map[string]map[string]float64),
		sets:     make(map[string]map[string]struct{}),
		expireAt: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetClock overrides the TTL clock, for expiry tests.
func (s *MemoryKV) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// purge drops the key if its TTL has passed. Callers hold the lock.
func (s *MemoryKV) purge(key string) {
	if at, ok := s.expireAt[key]; ok && s.now().After(at) {
		s.deleteKey(key)
	}
}

func (s *MemoryKV) deleteKey(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.zsets, key)
	delete(s.sets, key)
	delete(s.expireAt, key)
}

func (s *MemoryKV) setTTL(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expireAt[key] = s.now().Add(ttl)
	} else {
		delete(s.expireAt, key)
	}
}

func (s *MemoryKV) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	v, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteKey(key)
	s.strings[key] = value
	s.setTTL(key, ttl)
	return nil
}

func (s *MemoryKV) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.deleteKey(k)
	}
	return nil
}

func (s *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return s.hasKey(key), nil
}

func (s *MemoryKV) hasKey(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.zsets[key]; ok {
		return true
	}
	_, ok := s.sets[key]
	return ok
}

func (s *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if s.hasKey(key) {
		s.setTTL(key, ttl)
	}
	return nil
}

func (s *MemoryKV) HSetAll(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	if ttl > 0 {
		s.setTTL(key, ttl)
	}
	return nil
}

func (s *MemoryKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryKV) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *MemoryKV) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if z, ok := s.zsets[key]; ok {
		delete(z, member)
	}
	return nil
}

func (s *MemoryKV) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryKV) ZRevRangeByScore(_ context.Context, key string, max float64, exclusive bool, count int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for m, sc := range s.zsets[key] {
		if math.IsInf(max, 1) || sc < max || (!exclusive && sc == max) {
			entries = append(entries, entry{m, sc})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].member > entries[j].member
	})
	if count > 0 && int64(len(entries)) > count {
		entries = entries[:count]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.member
	}
	return out, nil
}

func (s *MemoryKV) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryKV) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if set, ok := s.sets[key]; ok {
		for _, m := range members {
			delete(set, m)
		}
	}
	return nil
}

func (s *MemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryKV) Type(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if _, ok := s.strings[key]; ok {
		return "string", nil
	}
	if _, ok := s.hashes[key]; ok {
		return "hash", nil
	}
	if _, ok := s.zsets[key]; ok {
		return "zset", nil
	}
	if _, ok := s.sets[key]; ok {
		return "set", nil
	}
	return "none", nil
}
