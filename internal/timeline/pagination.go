package timeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/apperrors"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/domain"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/metrics"
)

const (
	DefaultPageSize    = 30
	DefaultPageTimeout = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 10 * time.Second
	DefaultDebounce    = 300 * time.Millisecond
)

// Page is one backward slice of a room's history, ascending by timestamp.
type Page struct {
	Messages        []*domain.Message `json:"messages"`
	HasMore         bool              `json:"hasMore"`
	OldestTimestamp *int64            `json:"oldestTimestamp"`
	OldestID        string            `json:"oldestId,omitempty"`
}

// Cursor addresses the boundary entry of the previous page. ID disambiguates
// entries sharing a millisecond; with an empty ID the boundary is the bare
// timestamp, exclusive.
type Cursor struct {
	Ts int64
	ID string
}

// Cursor returns the composite cursor for fetching the page preceding this
// one, or nil for an empty page.
func (p *Page) Cursor() *Cursor {
	if p.OldestTimestamp == nil {
		return nil
	}
	return &Cursor{Ts: *p.OldestTimestamp, ID: p.OldestID}
}

type guardKey struct {
	roomID string
	userID string
}

// Paginator retrieves history pages with a hard timeout, retry with backoff,
// and a per-(room,user) in-flight guard that drops duplicate bursts.
type Paginator struct {
	store *Store

	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	debounce    time.Duration

	mu       sync.Mutex
	inflight map[guardKey]struct{}
	retries  map[guardKey]int
}

type PaginatorOptions struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Debounce    time.Duration
}

func NewPaginator(store *Store, opts PaginatorOptions) *Paginator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPageTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = DefaultBackoffCap
	}
	return &Paginator{
		store:       store,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		debounce:    opts.Debounce,
		inflight:    make(map[guardKey]struct{}),
		retries:     make(map[guardKey]int),
	}
}

// LoadPage queries the room index descending from before, or from the newest
// entry when before is nil. A cursor carrying an id re-reads the boundary
// millisecond and filters on (timestamp, id), so siblings sharing the boundary
// millisecond are not lost across the page edge. It keeps limit+1 entries to
// detect hasMore, drops ids whose record cannot be resolved, and returns the
// page ascending. The whole fetch is bounded by the configured timeout.
func (p *Paginator) LoadPage(ctx context.Context, roomID string, before *Cursor, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	max := math.Inf(1)
	exclusive := false
	if before != nil {
		max = float64(before.Ts)
		exclusive = before.ID == ""
	}

	probe := limit + 1
	var msgs []*domain.Message
	for count := int64(probe); ; count *= 2 {
		ids, err := p.store.kv.ZRevRangeByScore(ctx, p.store.indexKey(roomID), max, exclusive, count)
		if err != nil {
			return nil, p.wrapTimeout(err, "range timeline index")
		}

		msgs = msgs[:0]
		for _, id := range ids {
			m, err := p.store.Get(ctx, id)
			if errors.Is(err, apperrors.ErrMessageNotFound) {
				// dangling index entry, skip
				continue
			}
			if err != nil {
				return nil, p.wrapTimeout(err, "resolve message")
			}
			if before != nil && before.ID != "" && !olderThan(m, before) {
				// at or past the cursor entry within the boundary millisecond
				continue
			}
			msgs = append(msgs, m)
		}
		if len(msgs) >= probe || int64(len(ids)) < count {
			break
		}
		// filtered entries ate into the probe, widen the range and retry
	}

	hasMore := len(msgs) > limit
	if hasMore {
		// entries arrive newest first; the surplus is the oldest
		msgs = msgs[:limit]
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})

	page := &Page{Messages: msgs, HasMore: hasMore}
	if len(msgs) > 0 {
		page.OldestTimestamp = &msgs[0].Timestamp
		page.OldestID = msgs[0].ID
	}
	return page, nil
}

// olderThan reports whether m sits strictly before the cursor in
// (timestamp, id) order.
func olderThan(m *domain.Message, c *Cursor) bool {
	if m.Timestamp != c.Ts {
		return m.Timestamp < c.Ts
	}
	return m.ID < c.ID
}

func (p *Paginator) wrapTimeout(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.PaginationTimeouts.Inc()
		return fmt.Errorf("%s: %w", op, apperrors.ErrLoadTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// LoadPageWithRetry wraps LoadPage with exponential backoff keyed per
// (room, user). A second request for a pair already in flight is dropped and
// reported as (nil, nil). The guard is released a debounce interval after
// completion to absorb duplicate client bursts.
func (p *Paginator) LoadPageWithRetry(ctx context.Context, roomID, userID string, before *Cursor, limit int) (*Page, error) {
	key := guardKey{roomID: roomID, userID: userID}
	if !p.acquire(key) {
		return nil, nil
	}
	defer p.releaseLater(key)

	for {
		page, err := p.LoadPage(ctx, roomID, before, limit)
		if err == nil {
			p.mu.Lock()
			delete(p.retries, key)
			p.mu.Unlock()
			return page, nil
		}

		p.mu.Lock()
		p.retries[key]++
		attempt := p.retries[key]
		p.mu.Unlock()
		metrics.PaginationRetries.Inc()

		if attempt >= p.maxRetries {
			p.mu.Lock()
			delete(p.retries, key)
			p.mu.Unlock()
			return nil, fmt.Errorf("%w (room %s, last error: %v)", apperrors.ErrRetryExhausted, roomID, err)
		}

		backoff := p.backoffBase << (attempt - 1)
		if backoff > p.backoffCap {
			backoff = p.backoffCap
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			p.mu.Lock()
			delete(p.retries, key)
			p.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (p *Paginator) acquire(key guardKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Paginator) releaseLater(key guardKey) {
	if p.debounce <= 0 {
		p.release(key)
		return
	}
	time.AfterFunc(p.debounce, func() { p.release(key) })
}

func (p *Paginator) release(key guardKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

// ClearFor drops any guard and retry bookkeeping for the pair. Called on
// leave and disconnect so failed loads cannot wedge a future join.
func (p *Paginator) ClearFor(roomID, userID string) {
	key := guardKey{roomID: roomID, userID: userID}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
	delete(p.retries, key)
}

// PendingRetries reports the retry count for a pair; tests use it to assert
// cleanup.
func (p *Paginator) PendingRetries(roomID, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries[guardKey{roomID: roomID, userID: userID}]
}
