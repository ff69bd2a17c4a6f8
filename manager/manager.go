// Package manager orchestrates reads across registered health providers:
// priority-ordered attempt loops with classified retry, a short-TTL response
// cache with stale fallback, a 15-minute permission cache, and parallel
// permission fan-out. The manager never fabricates data: when every provider
// fails and no cache is usable it returns a structured empty response.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/healthbridge/datacache"
	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/metric"
	"github.com/c360/healthbridge/pkg/cache"
	"github.com/c360/healthbridge/pkg/retry"
	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/telemetry"
	"github.com/c360/healthbridge/types"
)

// Defaults for the manager's caches and attempt loop.
const (
	DefaultPermissionTTL  = 15 * time.Minute
	DefaultStaleMaxAge    = time.Hour
	DefaultRetryMaxDelay  = 30 * time.Second
	respCacheSweepEvery   = time.Minute
	permCacheSweepEvery   = time.Minute
	permissionFanOutLimit = 10 * time.Second
)

// ReadOptions parameterizes GetHealthData.
type ReadOptions struct {
	Start time.Time
	End   time.Time
	Limit int

	// PreferredProvider, when set and compatible, is tried first.
	PreferredProvider string
}

// cachedResponse is a response-cache entry. Entries are retained past their
// freshness window so total provider failure can fall back to stale data.
type cachedResponse struct {
	Data     []types.HealthMetric
	Provider string
	Quality  types.Quality
	StoredAt time.Time
}

// Config assembles a Manager. Only Logger is commonly set; everything else
// has working defaults.
type Config struct {
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	Telemetry telemetry.Sink

	// DataCache, when set, receives successful reads for durable caching.
	DataCache *datacache.Service

	// ResponseTTL overrides the tier-derived freshness window.
	ResponseTTL time.Duration

	// PermissionTTL overrides the permission cache TTL.
	PermissionTTL time.Duration

	// StaleMaxAge bounds how old a stale-cache fallback may be.
	StaleMaxAge time.Duration
}

// Manager is the provider orchestrator. Construct with New; safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	providers map[string]provider.Provider
	ordered   []provider.Provider
	profile   tierProfile

	respCache cache.Cache[cachedResponse]
	permCache cache.Cache[[]types.Permission]
	dataCache *datacache.Service

	// cacheCtx scopes cache cleanup goroutines, including the rebuilt
	// response cache after tier detection.
	cacheCtx context.Context

	logger    *slog.Logger
	metrics   *metric.Metrics
	telemetry telemetry.Sink

	responseTTL   time.Duration
	permissionTTL time.Duration
	staleMaxAge   time.Duration
	now           func() time.Time
}

// New creates a Manager.
func New(ctx context.Context, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewSlogSink(cfg.Logger)
	}
	if cfg.PermissionTTL <= 0 {
		cfg.PermissionTTL = DefaultPermissionTTL
	}
	if cfg.StaleMaxAge <= 0 {
		cfg.StaleMaxAge = DefaultStaleMaxAge
	}

	// Neither cache requests metric registration, so construction cannot fail.
	respCache, _ := cache.NewHybrid[cachedResponse](ctx, tierProfiles[TierMid].CacheEntries, cfg.StaleMaxAge, respCacheSweepEvery)
	permCache, _ := cache.NewTTL[[]types.Permission](ctx, cfg.PermissionTTL, permCacheSweepEvery)

	m := &Manager{
		providers:     make(map[string]provider.Provider),
		profile:       tierProfiles[TierMid],
		respCache:     respCache,
		permCache:     permCache,
		dataCache:     cfg.DataCache,
		cacheCtx:      ctx,
		logger:        cfg.Logger.With("component", "manager"),
		metrics:       cfg.Metrics,
		telemetry:     cfg.Telemetry,
		responseTTL:   cfg.ResponseTTL,
		permissionTTL: cfg.PermissionTTL,
		staleMaxAge:   cfg.StaleMaxAge,
		now:           time.Now,
	}
	return m
}

// RegisterProvider validates and accepts a provider, recomputing the
// priority ordering. Duplicate names and incomplete adapters are rejected.
func (m *Manager) RegisterProvider(name string, p provider.Provider) error {
	if name == "" {
		return fmt.Errorf("manager.RegisterProvider: empty name")
	}
	if p == nil {
		return fmt.Errorf("manager.RegisterProvider: nil provider %q", name)
	}
	if p.Platform() == "" {
		return fmt.Errorf("manager.RegisterProvider: provider %q reports no platform", name)
	}
	if len(p.SupportedTypes()) == 0 {
		return fmt.Errorf("manager.RegisterProvider: provider %q supports no data types", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("manager.RegisterProvider: provider %q already registered", name)
	}
	m.providers[name] = p
	m.reorderLocked()

	m.logger.Info("provider registered", "provider", name,
		"platform", p.Platform(), "priority", p.Priority())
	return nil
}

// reorderLocked recomputes the priority ordering. Caller holds m.mu.
func (m *Manager) reorderLocked() {
	ordered := make([]provider.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() > ordered[j].Priority()
		}
		return ordered[i].Name() < ordered[j].Name()
	})
	m.ordered = ordered
}

// Initialize brings up every registered provider in parallel, tolerating
// individual failures. Returns true iff at least one provider activated.
// The device tier is detected from the first active provider and its
// operating profile applied.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	providers := make([]provider.Provider, len(m.ordered))
	copy(providers, m.ordered)
	m.mu.Unlock()

	if len(providers) == 0 {
		m.logger.Warn("initialize called with no registered providers")
		return false
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var active []provider.Provider

	for _, p := range providers {
		p := p
		g.Go(func() error {
			if err := p.Initialize(gctx); err != nil {
				m.logger.Warn("provider initialization failed",
					"provider", p.Name(), "class", errors.Classify(err).String(), "error", err)
				return nil // tolerated
			}
			mu.Lock()
			active = append(active, p)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if m.metrics != nil {
		m.metrics.ActiveProviders.Set(float64(len(active)))
	}
	if len(active) == 0 {
		m.logger.Error("no providers activated")
		return false
	}

	tier := detectTier(active[0].DeviceInfo())
	m.mu.Lock()
	if tier != m.profile.Tier {
		m.profile = tierProfiles[tier]
		m.resizeResponseCacheLocked()
	}
	m.mu.Unlock()

	m.logger.Info("manager initialized",
		"active_providers", len(active), "device_tier", tier)
	return true
}

// resizeResponseCacheLocked rebuilds the response cache with the tier's
// entry cap. Tier detection happens before any reads, so the cache being
// replaced is cold. Caller holds m.mu.
func (m *Manager) resizeResponseCacheLocked() {
	fresh, err := cache.NewHybrid[cachedResponse](m.cacheCtx, m.profile.CacheEntries, m.staleMaxAge, respCacheSweepEvery)
	if err != nil {
		m.logger.Warn("response cache resize failed", "error", err)
		return
	}
	old := m.respCache
	m.respCache = fresh
	go func() { _ = old.Close() }()
}

// responses returns the current response cache. The reference is replaced
// when the device tier is applied, so it is read under m.mu.
func (m *Manager) responses() cache.Cache[cachedResponse] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.respCache
}

// currentProfile returns the active tier profile with config overrides.
func (m *Manager) currentProfile() tierProfile {
	m.mu.Lock()
	profile := m.profile
	m.mu.Unlock()
	if m.responseTTL > 0 {
		profile.ResponseTTL = m.responseTTL
	}
	return profile
}

// respKey builds the response cache key.
func respKey(dt types.DataType, opts ReadOptions) string {
	return fmt.Sprintf("resp:%s:%d:%d:%d", dt, opts.Start.UnixMilli(), opts.End.UnixMilli(), opts.Limit)
}

// GetHealthData performs a unified read. Adapters are tried strictly
// sequentially in priority order; each gets a classified retry budget. Total
// failure falls back to stale cache, then to a structured empty response.
func (m *Manager) GetHealthData(ctx context.Context, dt types.DataType, opts ReadOptions) *types.UnifiedResponse {
	started := m.now()
	profile := m.currentProfile()
	responses := m.responses()
	key := respKey(dt, opts)

	if entry, ok := responses.Get(key); ok && m.now().Sub(entry.StoredAt) < profile.ResponseTTL {
		m.countRead(dt, "cache_hit")
		return &types.UnifiedResponse{
			Success:  true,
			Data:     entry.Data,
			Provider: entry.Provider,
			Cached:   true,
			Metadata: types.ResponseMeta{
				FetchTime:   m.now().Sub(started),
				Source:      "cache",
				DataQuality: entry.Quality,
			},
		}
	}

	candidates := m.candidatesFor(ctx, dt, opts.PreferredProvider)
	var attemptErrors []string

	for i, p := range candidates {
		if i > 0 {
			if m.metrics != nil {
				m.metrics.ProviderFallbacksTotal.Inc()
			}
		}

		data, err := m.readWithRetry(ctx, p, dt, opts, profile)
		if err != nil {
			class := errors.Classify(err)
			attemptErrors = append(attemptErrors, fmt.Sprintf("%s: %s", p.Name(), err))
			if m.metrics != nil {
				m.metrics.ReadErrorsTotal.WithLabelValues(p.Name(), class.String()).Inc()
			}
			m.telemetry.TrackError(err, map[string]any{
				"provider":  p.Name(),
				"data_type": string(dt),
				"class":     class.String(),
			})
			continue
		}

		quality := aggregateQuality(data)
		responses.SetWithTTL(key, cachedResponse{
			Data:     data,
			Provider: p.Name(),
			Quality:  quality,
			StoredAt: m.now(),
		}, m.staleMaxAge)

		if m.dataCache != nil {
			m.dataCache.Set(ctx, dt, opts.Start, opts.End, data, datacache.SetOptions{})
		}

		m.countRead(dt, "success")
		return &types.UnifiedResponse{
			Success:  true,
			Data:     data,
			Provider: p.Name(),
			Metadata: types.ResponseMeta{
				FetchTime:   m.now().Sub(started),
				Source:      p.Name(),
				DataQuality: quality,
			},
		}
	}

	// Every provider failed (or none qualified): try stale cache.
	if entry, ok := responses.Get(key); ok && m.now().Sub(entry.StoredAt) < m.staleMaxAge {
		m.logger.Warn("serving stale cache after provider failures",
			"data_type", dt, "age", m.now().Sub(entry.StoredAt), "errors", len(attemptErrors))
		m.countRead(dt, "stale_cache")
		return &types.UnifiedResponse{
			Success:  true,
			Data:     entry.Data,
			Provider: entry.Provider,
			Cached:   true,
			Errors:   attemptErrors,
			Metadata: types.ResponseMeta{
				FetchTime:   m.now().Sub(started),
				Source:      "stale-cache",
				DataQuality: types.QualityLow,
			},
		}
	}

	// Structured empty response. Data is never fabricated.
	m.countRead(dt, "empty")
	return &types.UnifiedResponse{
		Success: false,
		Data:    []types.HealthMetric{},
		Errors:  attemptErrors,
		Metadata: types.ResponseMeta{
			FetchTime: m.now().Sub(started),
			Source:    "none",
		},
	}
}

// readWithRetry runs one provider's attempt loop: classified retry with
// exponential backoff and jitter, each attempt under the tier timeout.
func (m *Manager) readWithRetry(ctx context.Context, p provider.Provider, dt types.DataType,
	opts ReadOptions, profile tierProfile) ([]types.HealthMetric, error) {

	limit := opts.Limit
	if limit <= 0 || limit > profile.BatchSize {
		limit = profile.BatchSize
	}
	r := types.Range{Start: opts.Start, End: opts.End, Limit: limit}

	cfg := retry.Config{
		MaxAttempts:  profile.RetryAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     DefaultRetryMaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
		Classifier:   errors.IsRetryable,
	}

	return retry.DoWithResult(ctx, cfg, func() ([]types.HealthMetric, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, profile.AttemptTimeout)
		defer cancel()
		return p.ReadHealthData(attemptCtx, dt, r)
	})
}

// candidatesFor selects available, capable, permission-granted providers in
// priority order, moving the preferred provider to the front when compatible.
func (m *Manager) candidatesFor(ctx context.Context, dt types.DataType, preferred string) []provider.Provider {
	m.mu.Lock()
	ordered := make([]provider.Provider, len(m.ordered))
	copy(ordered, m.ordered)
	m.mu.Unlock()

	var candidates []provider.Provider
	for _, p := range ordered {
		if !p.IsAvailable() {
			continue
		}
		if !supports(p, dt) {
			continue
		}
		if !m.hasGrantedPermission(ctx, p, dt) {
			continue
		}
		candidates = append(candidates, p)
	}

	if preferred != "" {
		for i, p := range candidates {
			if p.Name() == preferred && i > 0 {
				candidates = append([]provider.Provider{p}, append(candidates[:i:i], candidates[i+1:]...)...)
				break
			}
		}
	}
	return candidates
}

func supports(p provider.Provider, dt types.DataType) bool {
	for _, t := range p.SupportedTypes() {
		if t == dt {
			return true
		}
	}
	return false
}

// hasGrantedPermission consults the aggregate permission check for one
// provider and type.
func (m *Manager) hasGrantedPermission(ctx context.Context, p provider.Provider, dt types.DataType) bool {
	perms := m.CheckPermissions(ctx, []types.DataType{dt})
	for _, perm := range perms[p.Name()] {
		if perm.Type == dt && perm.Granted {
			return true
		}
	}
	return false
}

// permKey builds the permission cache key for one provider and type set.
func permKey(providerName string, dataTypes []types.DataType) string {
	sorted := make([]string, len(dataTypes))
	for i, dt := range dataTypes {
		sorted[i] = string(dt)
	}
	sort.Strings(sorted)
	return fmt.Sprintf("perm:%s:%s", providerName, strings.Join(sorted, ","))
}

// CheckPermissions returns grant state per provider, served from a
// 15-minute cache. Cache misses query the adapters in parallel with a
// per-adapter timeout; a failed check reads as "not granted" and never
// propagates.
func (m *Manager) CheckPermissions(ctx context.Context, dataTypes []types.DataType) map[string][]types.Permission {
	m.mu.Lock()
	providers := make([]provider.Provider, len(m.ordered))
	copy(providers, m.ordered)
	m.mu.Unlock()

	result := make(map[string][]types.Permission, len(providers))
	var missing []provider.Provider

	for _, p := range providers {
		if perms, ok := m.permCache.Get(permKey(p.Name(), dataTypes)); ok {
			result[p.Name()] = perms
		} else {
			missing = append(missing, p)
		}
	}

	if len(missing) == 0 {
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range missing {
		p := p
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, permissionFanOutLimit)
			defer cancel()

			perms, err := p.CheckPermissions(checkCtx, dataTypes)
			if err != nil {
				// A provider's failed check must never crash the aggregate:
				// report the types as not granted.
				m.logger.Warn("permission check failed, treating as not granted",
					"provider", p.Name(), "error", err)
				perms = notGranted(dataTypes, err)
			}

			m.permCache.Set(permKey(p.Name(), dataTypes), perms)
			mu.Lock()
			result[p.Name()] = perms
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

func notGranted(dataTypes []types.DataType, err error) []types.Permission {
	perms := make([]types.Permission, len(dataTypes))
	for i, dt := range dataTypes {
		perms[i] = types.Permission{Type: dt, Granted: false, Error: err.Error()}
	}
	return perms
}

// RequestPermissions raises the permission flow on every registered provider
// in parallel. The permission cache is invalidated first so a fresh grant is
// never masked by a stale entry. Returns true if any provider granted.
func (m *Manager) RequestPermissions(ctx context.Context, dataTypes []types.DataType) bool {
	_ = m.permCache.Clear()

	m.mu.Lock()
	providers := make([]provider.Provider, len(m.ordered))
	copy(providers, m.ordered)
	m.mu.Unlock()

	var granted bool
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range providers {
		p := p
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, permissionFanOutLimit)
			defer cancel()

			ok, err := p.RequestPermissions(reqCtx, dataTypes)
			if err != nil {
				m.logger.Warn("permission request failed", "provider", p.Name(), "error", err)
				return nil
			}
			if ok {
				mu.Lock()
				granted = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return granted
}

// ClearCache removes response and permission cache entries. With a type,
// only that type's response entries go; permission entries always go since
// they are not type-partitioned. The durable tier is invalidated to match.
func (m *Manager) ClearCache(ctx context.Context, dt *types.DataType) {
	responses := m.responses()
	if dt == nil {
		_ = responses.Clear()
	} else {
		prefix := fmt.Sprintf("resp:%s:", *dt)
		for _, key := range responses.Keys() {
			if strings.HasPrefix(key, prefix) {
				_, _ = responses.Delete(key)
			}
		}
	}
	_ = m.permCache.Clear()

	if m.dataCache != nil {
		m.dataCache.Invalidate(ctx, dt, nil)
	}
}

// Cleanup tears down every provider and clears all caches.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	providers := make([]provider.Provider, len(m.ordered))
	copy(providers, m.ordered)
	m.mu.Unlock()

	for _, p := range providers {
		if err := p.Cleanup(ctx); err != nil {
			m.logger.Warn("provider cleanup failed", "provider", p.Name(), "error", err)
		}
	}

	m.ClearCache(ctx, nil)
	_ = m.responses().Close()
	_ = m.permCache.Close()

	if m.metrics != nil {
		m.metrics.ActiveProviders.Set(0)
	}
	m.logger.Info("manager cleaned up")
}

// Providers returns the registered providers in priority order.
func (m *Manager) Providers() []provider.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]provider.Provider, len(m.ordered))
	copy(out, m.ordered)
	return out
}

func (m *Manager) countRead(dt types.DataType, outcome string) {
	if m.metrics != nil {
		m.metrics.ReadsTotal.WithLabelValues(string(dt), outcome).Inc()
	}
}

// aggregateQuality reports the lowest quality across a dataset, since one
// bad reading taints downstream interpretation.
func aggregateQuality(data []types.HealthMetric) types.Quality {
	quality := types.QualityHigh
	for _, metricItem := range data {
		switch metricItem.Metadata.Quality {
		case types.QualityLow:
			return types.QualityLow
		case types.QualityMedium:
			quality = types.QualityMedium
		}
	}
	return quality
}
