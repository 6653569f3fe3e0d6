package cache

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/smartpop/popup-analytics/pkg/logger"
)

// ComputeFunc produces the value for a missing key. A nil result is not cached.
type ComputeFunc func(ctx context.Context) (any, error)

type entry struct {
	value     []byte
	expiresAt time.Time
	category  Category
	shop      string
}

// Stats 캐시 통계
type Stats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Sets       int64     `json:"sets"`
	Deletes    int64     `json:"deletes"`
	HitRate    float64   `json:"hit_rate"`
	MemorySize int       `json:"memory_size"`
	LastReset  time.Time `json:"last_reset"`
}

// Store two-tier cache: process memory in front of an optional durable Backend.
// Values are JSON documents. Tier failures are logged and treated as misses.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]entry
	lastReset time.Time

	durable Backend
	now     func() time.Time
	log     *zerolog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// Option Store 설정
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger overrides the logger
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore creates a Store. durable may be nil for a memory-only cache.
func NewStore(durable Backend, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		durable: durable,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastReset = s.now()
	return s
}

// Get looks up key in memory, then in the durable tier, then runs compute.
// The boolean is false when no value could be produced.
func (s *Store) Get(ctx context.Context, key string, category Category, compute ComputeFunc, scope ...string) ([]byte, bool) {
	now := s.now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		s.hits.Add(1)
		cacheOperations.WithLabelValues("hit", tierMemory).Inc()
		return e.value, true
	}

	if s.durable != nil {
		rec, err := s.durable.Get(ctx, key)
		switch {
		case err != nil:
			cacheOperations.WithLabelValues("error", tierDurable).Inc()
			s.log.Warn().Err(err).Str("cache_key", key).Msg("durable cache read failed")
		case rec != nil && !rec.Expired(now):
			s.hits.Add(1)
			cacheOperations.WithLabelValues("hit", tierDurable).Inc()
			s.mu.Lock()
			s.entries[key] = entry{
				value:     rec.Value,
				expiresAt: rec.ExpiresAt,
				category:  rec.Category,
				shop:      rec.ShopDomain,
			}
			s.mu.Unlock()
			return rec.Value, true
		}
	}

	s.misses.Add(1)
	cacheOperations.WithLabelValues("miss", tierMemory).Inc()
	if compute == nil {
		return nil, false
	}

	v, err := compute(ctx)
	if err != nil {
		cacheOperations.WithLabelValues("error", tierCompute).Inc()
		s.log.Error().Err(err).Str("cache_key", key).Msg("cache compute failed")
		return nil, false
	}
	if isNil(v) {
		return nil, false
	}

	data, err := encode(v)
	if err != nil {
		s.log.Error().Err(err).Str("cache_key", key).Msg("cache value encode failed")
		return nil, false
	}
	s.put(ctx, key, data, category, firstScope(scope))
	return data, true
}

// GetJSON is Get followed by json.Unmarshal into dest.
func (s *Store) GetJSON(ctx context.Context, key string, category Category, dest any, compute ComputeFunc, scope ...string) (bool, error) {
	data, ok := s.Get(ctx, key, category, compute, scope...)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value in both tiers with the category TTL.
// json.RawMessage is stored as is; anything else is JSON encoded.
func (s *Store) Set(ctx context.Context, key string, value any, category Category, scope ...string) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	s.put(ctx, key, data, category, firstScope(scope))
	return nil
}

func (s *Store) put(ctx context.Context, key string, data []byte, category Category, shop string) {
	category = category.Normalize()
	now := s.now()
	expiresAt := now.Add(category.TTL())

	s.mu.Lock()
	s.entries[key] = entry{value: data, expiresAt: expiresAt, category: category, shop: shop}
	s.mu.Unlock()
	s.sets.Add(1)
	cacheOperations.WithLabelValues("set", tierMemory).Inc()

	if s.durable == nil {
		return
	}
	err := s.durable.Put(ctx, &Record{
		Key:        key,
		Value:      data,
		ExpiresAt:  expiresAt,
		Category:   category,
		ShopDomain: shop,
		CreatedAt:  now,
	})
	if err != nil {
		cacheOperations.WithLabelValues("error", tierDurable).Inc()
		s.log.Warn().Err(err).Str("cache_key", key).Msg("durable cache write failed")
	}
}

// Delete removes key from both tiers
func (s *Store) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	s.deletes.Add(1)
	cacheOperations.WithLabelValues("delete", tierMemory).Inc()

	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			cacheOperations.WithLabelValues("error", tierDurable).Inc()
			s.log.Warn().Err(err).Str("cache_key", key).Msg("durable cache delete failed")
		}
	}
}

// Invalidate removes every key matching pattern. A non-empty shop restricts
// removal to entries stored for that shop. Returns the number of memory entries removed.
func (s *Store) Invalidate(ctx context.Context, pattern Pattern, shop string) int {
	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if !pattern.Match(key) {
			continue
		}
		if shop != "" && e.shop != shop {
			continue
		}
		delete(s.entries, key)
		removed++
	}
	s.mu.Unlock()

	s.deletes.Add(int64(removed))
	cacheOperations.WithLabelValues("invalidate", tierMemory).Add(float64(removed))

	if s.durable != nil {
		n, err := s.durable.DeleteMatching(ctx, pattern, shop)
		if err != nil {
			cacheOperations.WithLabelValues("error", tierDurable).Inc()
			s.log.Warn().Err(err).Str("shop_domain", shop).Msg("durable cache invalidate failed")
		} else {
			cacheOperations.WithLabelValues("invalidate", tierDurable).Add(float64(n))
		}
	}
	return removed
}

// Cleanup drops expired memory entries and purges expired durable rows.
// Returns the number of memory entries removed.
func (s *Store) Cleanup(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	if s.durable != nil {
		n, err := s.durable.DeleteExpired(ctx, now)
		if err != nil {
			s.log.Warn().Err(err).Msg("durable cache cleanup failed")
		} else if n > 0 {
			s.log.Debug().Int64("rows", n).Msg("durable cache cleanup")
		}
	}
	return removed
}

// Stats snapshot of counters. HitRate is a percentage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	size := len(s.entries)
	lastReset := s.lastReset
	s.mu.RUnlock()

	hits, misses := s.hits.Load(), s.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:       hits,
		Misses:     misses,
		Sets:       s.sets.Load(),
		Deletes:    s.deletes.Load(),
		HitRate:    rate,
		MemorySize: size,
		LastReset:  lastReset,
	}
}

// Clear empties both tiers and resets the counters
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.lastReset = s.now()
	s.mu.Unlock()

	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.deletes.Store(0)

	if s.durable != nil {
		if err := s.durable.DeleteAll(ctx); err != nil {
			s.log.Warn().Err(err).Msg("durable cache clear failed")
		}
	}
}

func firstScope(scope []string) string {
	if len(scope) == 0 {
		return ""
	}
	return scope[0]
}

func encode(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
