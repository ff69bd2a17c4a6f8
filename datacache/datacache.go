// Package datacache is the health data cache service: a two-tier
// (memory + durable store) cache keyed by data type and time range, with
// type-derived TTLs, content checksums for integrity spot-checks, and
// LFU eviction under an entry cap.
//
// The memory tier is authoritative for the session; persistence is
// asynchronous and a persist failure never fails the write.
package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/healthbridge/storage"
	"github.com/c360/healthbridge/types"
)

// SchemaVersion marks the persisted entry layout. Entries persisted under a
// different version are discarded on promotion.
const SchemaVersion = 1

// DefaultMaxEntries caps the memory tier.
const DefaultMaxEntries = 200

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = 5 * time.Minute

// defaultTTLs maps data types to cache lifetimes. Volatile signals expire in
// minutes; stable signals like weight are good for a day.
var defaultTTLs = map[types.DataType]time.Duration{
	types.TypeHeartRate:        2 * time.Minute,
	types.TypeSteps:            2 * time.Minute,
	types.TypeOxygenSaturation: 2 * time.Minute,
	types.TypeRespiratoryRate:  2 * time.Minute,
	types.TypeDistance:         15 * time.Minute,
	types.TypeActiveCalories:   15 * time.Minute,
	types.TypeBloodPressureSys: 30 * time.Minute,
	types.TypeBloodPressureDia: 30 * time.Minute,
	types.TypeBodyTemperature:  30 * time.Minute,
	types.TypeSleep:            time.Hour,
	types.TypeWeight:           24 * time.Hour,
}

// DefaultTTL returns the cache lifetime for a data type.
func DefaultTTL(dt types.DataType) time.Duration {
	if ttl, ok := defaultTTLs[dt]; ok {
		return ttl
	}
	if dt.Volatile() {
		return 2 * time.Minute
	}
	return 15 * time.Minute
}

// Checksum computes the content spot-check for a metric slice:
// count plus first and last values. Cheap to compute and catches
// truncation and reordering, which is all the integrity check aims for.
func Checksum(metrics []types.HealthMetric) string {
	if len(metrics) == 0 {
		return "0"
	}
	return fmt.Sprintf("%d:%.4f:%.4f", len(metrics), metrics[0].Value, metrics[len(metrics)-1].Value)
}

// entry is one cached dataset.
type entry struct {
	Data          []types.HealthMetric `json:"data"`
	Type          types.DataType       `json:"type"`
	StoredAt      time.Time            `json:"stored_at"`
	TTL           time.Duration        `json:"ttl"`
	Checksum      string               `json:"checksum"`
	SchemaVersion int                  `json:"schema_version"`

	accessCount int64 // memory tier only
}

// GetOptions tunes a read.
type GetOptions struct {
	// MaxAge caps acceptable entry age below the stored TTL. Zero means the
	// stored TTL alone decides.
	MaxAge time.Duration

	// IgnoreTTL accepts entries past their stored TTL as long as they are
	// younger than MaxAge. Used by recovery fallbacks that prefer stale data
	// over no data. Requires MaxAge > 0.
	IgnoreTTL bool
}

// SetOptions tunes a write.
type SetOptions struct {
	// TTL overrides the type-derived default.
	TTL time.Duration
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries    int   `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Promotions int64 `json:"promotions"`
}

// Service is the health data cache. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	entries map[string]*entry

	store      storage.Store
	logger     *slog.Logger
	maxEntries int
	now        func() time.Time

	hits, misses, evictions, promotions int64

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// Option configures the Service.
type Option func(*Service)

// WithMaxEntries overrides the memory-tier entry cap.
func WithMaxEntries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the cache service. store may be nil, disabling the durable
// tier. cleanupInterval <= 0 takes the default.
func New(logger *slog.Logger, store storage.Store, cleanupInterval time.Duration, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Service{
		entries:     make(map[string]*entry),
		store:       store,
		logger:      logger.With("component", "datacache"),
		maxEntries:  DefaultMaxEntries,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop(cleanupInterval)
	return s
}

// Key builds the cache key for a dataset.
func Key(dt types.DataType, start, end time.Time) string {
	return fmt.Sprintf("healthdata:%s:%d:%d", dt, start.UnixMilli(), end.UnixMilli())
}

// Get returns the cached dataset for (type, range), or nil and false.
// Memory is consulted first; on miss the durable tier is checked and a valid
// hit is promoted into memory.
func (s *Service) Get(ctx context.Context, dt types.DataType, start, end time.Time, opts GetOptions) ([]types.HealthMetric, bool) {
	key := Key(dt, start, end)

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && s.valid(e, opts) {
		e.accessCount++
		s.hits++
		data := e.Data
		s.mu.Unlock()
		return data, true
	}
	s.mu.Unlock()

	if promoted := s.promote(ctx, key); promoted != nil {
		s.mu.Lock()
		if s.valid(promoted, opts) {
			s.entries[key] = promoted
			promoted.accessCount++
			s.hits++
			s.promotions++
			data := promoted.Data
			s.mu.Unlock()
			return data, true
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
	return nil, false
}

// valid reports whether e satisfies the read options. Caller holds s.mu or
// owns e exclusively.
func (s *Service) valid(e *entry, opts GetOptions) bool {
	if e.SchemaVersion != SchemaVersion {
		return false
	}
	age := s.now().Sub(e.StoredAt)

	if opts.IgnoreTTL {
		return opts.MaxAge > 0 && age < opts.MaxAge
	}

	limit := e.TTL
	if opts.MaxAge > 0 && opts.MaxAge < limit {
		limit = opts.MaxAge
	}
	return age < limit
}

// promote loads and verifies a persisted entry. Corrupt or version-mismatched
// entries are removed from the store.
func (s *Service) promote(ctx context.Context, key string) *entry {
	if s.store == nil {
		return nil
	}

	raw, err := s.store.GetItem(ctx, key)
	if err != nil {
		return nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		_ = s.store.RemoveItem(ctx, key)
		return nil
	}
	if e.SchemaVersion != SchemaVersion {
		_ = s.store.RemoveItem(ctx, key)
		return nil
	}
	if Checksum(e.Data) != e.Checksum {
		s.logger.Warn("cache entry failed checksum spot-check", "key", key)
		_ = s.store.RemoveItem(ctx, key)
		return nil
	}
	return &e
}

// Set stores a dataset. The memory write is synchronous; persistence runs in
// the background and its failure is logged, not returned.
func (s *Service) Set(ctx context.Context, dt types.DataType, start, end time.Time, data []types.HealthMetric, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL(dt)
	}

	key := Key(dt, start, end)
	e := &entry{
		Data:          data,
		Type:          dt,
		StoredAt:      s.now(),
		TTL:           ttl,
		Checksum:      Checksum(data),
		SchemaVersion: SchemaVersion,
	}

	s.mu.Lock()
	s.entries[key] = e
	s.evictLocked()
	s.mu.Unlock()

	if s.store != nil {
		go s.persist(ctx, key, e)
	}
}

// persist writes an entry to the durable tier.
func (s *Service) persist(ctx context.Context, key string, e *entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("cache persist marshal failed", "key", key, "error", err)
		return
	}
	// Detach from the caller's deadline; persistence outlives the request.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.SetItem(pctx, key, raw); err != nil {
		s.logger.Warn("cache persist failed", "key", key, "error", err)
	}
}

// evictLocked enforces the entry cap: expired entries first, then least
// frequently accessed. Caller holds s.mu.
func (s *Service) evictLocked() {
	if len(s.entries) <= s.maxEntries {
		return
	}

	now := s.now()
	for key, e := range s.entries {
		if now.Sub(e.StoredAt) >= e.TTL {
			delete(s.entries, key)
			s.evictions++
		}
	}
	if len(s.entries) <= s.maxEntries {
		return
	}

	type candidate struct {
		key      string
		count    int64
		storedAt time.Time
	}
	candidates := make([]candidate, 0, len(s.entries))
	for key, e := range s.entries {
		candidates = append(candidates, candidate{key, e.accessCount, e.StoredAt})
	}
	// Least frequently accessed first; oldest first on ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].storedAt.Before(candidates[j].storedAt)
	})

	for _, c := range candidates {
		if len(s.entries) <= s.maxEntries {
			break
		}
		delete(s.entries, c.key)
		s.evictions++
	}
}

// Invalidate removes entries matching both filters (AND semantics). A nil
// filter matches everything; Invalidate(ctx, nil, nil) clears the cache.
func (s *Service) Invalidate(ctx context.Context, dt *types.DataType, olderThan *time.Time) {
	s.mu.Lock()
	var removed []string
	for key, e := range s.entries {
		if dt != nil && e.Type != *dt {
			continue
		}
		if olderThan != nil && !e.StoredAt.Before(*olderThan) {
			continue
		}
		delete(s.entries, key)
		removed = append(removed, key)
	}
	s.mu.Unlock()

	if s.store != nil {
		for _, key := range removed {
			_ = s.store.RemoveItem(ctx, key)
		}
	}
}

// Stats returns an activity snapshot.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:    len(s.entries),
		Hits:       s.hits,
		Misses:     s.misses,
		Evictions:  s.evictions,
		Promotions: s.promotions,
	}
}

// cleanupLoop sweeps expired entries until Close.
func (s *Service) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, e := range s.entries {
				if now.Sub(e.StoredAt) >= e.TTL {
					delete(s.entries, key)
					s.evictions++
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the cleanup loop. Idempotent.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
}
