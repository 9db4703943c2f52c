// Package limiter answers "may this user consume N tokens / $C right now"
// with bounded latency. A TTL cache fronts the authoritative quota store;
// consumption is applied optimistically to the cache and reconciled against
// the store by best-effort atomic increments and a periodic sync loop. The
// design trades strict accounting for availability: optimistic increments
// may be lost when a store write fails, and concurrent gateways may briefly
// overshoot a quota until the next sync converges their views.
package limiter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config tunes the limiter.
type Config struct {
	RedisURL     string
	CacheTTL     time.Duration
	SyncInterval time.Duration
	StoreTimeout time.Duration
	// FailOpen selects the decision when the store cannot be consulted:
	// true allows, false denies.
	FailOpen  bool
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
}

// Metrics is a point-in-time snapshot of the limiter's counters.
type Metrics struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	StoreFetches int64 `json:"store_fetches"`
	StoreErrors  int64 `json:"store_errors"`
	Allowed      int64 `json:"allowed"`
	Denied       int64 `json:"denied"`
	CacheSize    int   `json:"cache_size"`
}

// cacheEntry is one user's cached quota status. rec holds the last
// authoritative numbers plus optimistic local bumps; the realtime counters
// shadow the bumps not yet confirmed by the store.
type cacheEntry struct {
	mu             sync.Mutex
	rec            UsageRecord
	realtimeTokens int64
	realtimeCost   float64
	lastUpdated    time.Time
}

// UsageLimiter is safe for unbounded concurrent use. Per-key operations are
// independent; no lock is held across a store round-trip.
type UsageLimiter struct {
	cfg    Config
	store  QuotaStore
	logger *slog.Logger
	cache  *expirable.LRU[string, *cacheEntry]

	hits         atomic.Int64
	misses       atomic.Int64
	fetches      atomic.Int64
	storeErrs    atomic.Int64
	allowedCount atomic.Int64
	deniedCount  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a limiter backed by a Redis quota store at cfg.RedisURL.
func New(cfg Config, logger *slog.Logger) *UsageLimiter {
	cfg.applyDefaults()
	return NewWithStore(cfg, NewRedisStore(cfg.RedisURL, cfg.StoreTimeout, logger), logger)
}

// NewWithStore constructs a limiter over an explicit store. The constructor
// attempts one connection but never fails on it: the limiter must be
// constructible with the store down, and the sync loop owns reconnection
// from then on.
func NewWithStore(cfg Config, store QuotaStore, logger *slog.Logger) *UsageLimiter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	l := &UsageLimiter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		cache:  expirable.NewLRU[string, *cacheEntry](cfg.CacheSize, nil, cfg.CacheTTL),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	if err := store.Connect(ctx); err != nil {
		logger.Warn("quota store unavailable at startup, sync loop will reconnect",
			slog.String("error", err.Error()))
	}
	cancel()

	go l.syncLoop()
	return l
}

// Close stops the sync loop and releases the store connection.
func (l *UsageLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.store.Close()
}

// CheckUsage decides whether userID may proceed, optionally consuming the
// given token/cost deltas. It never returns an error: store failures are
// resolved through the fail-open policy.
func (l *UsageLimiter) CheckUsage(ctx context.Context, userID string, tokens *int64, cost *float64) Decision {
	dec := l.check(ctx, userID, tokens, cost)
	if dec.Allowed {
		l.allowedCount.Add(1)
	} else {
		l.deniedCount.Add(1)
	}
	return dec
}

func (l *UsageLimiter) check(ctx context.Context, userID string, tokens *int64, cost *float64) Decision {
	if entry, ok := l.cache.Get(userID); ok {
		l.hits.Add(1)
		return l.decide(userID, entry, tokens, cost)
	}
	l.misses.Add(1)
	l.fetches.Add(1)

	rec, err := l.store.Fetch(ctx, userID)
	switch {
	case err == nil:
		// Realtime counters start at zero: the fetched record is
		// authoritative and already includes prior consumption.
		entry := &cacheEntry{rec: *rec, lastUpdated: time.Now()}
		l.cache.Add(userID, entry)
		return l.decide(userID, entry, tokens, cost)

	case errors.Is(err, ErrNotFound):
		// No billing record: unmetered user, allowed by policy.
		entry := &cacheEntry{
			rec: UsageRecord{
				UserID:   userID,
				UserType: UserTypeClient,
				Allowed:  true,
				Status:   "no_billing_plan",
			},
			lastUpdated: time.Now(),
		}
		l.cache.Add(userID, entry)
		return allow

	default:
		l.storeErrs.Add(1)
		l.logger.Warn("usage fetch failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		if l.cfg.FailOpen {
			return allow
		}
		return deny("Unable to verify usage limits")
	}
}

// decide evaluates a cached entry, applying the optimistic consumption bump
// first. The cache never blocks on the remote write: the authoritative
// increment runs in the background and reconciles the entry when it lands.
func (l *UsageLimiter) decide(userID string, entry *cacheEntry, tokens *int64, cost *float64) Decision {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.rec.UserType == UserTypeAdmin {
		return allow
	}

	if tokens != nil || cost != nil {
		var t int64
		var c float64
		if tokens != nil {
			t = *tokens
		}
		if cost != nil {
			c = *cost
		}
		entry.rec.TokensUsed += t
		entry.rec.CostUsed += c
		entry.realtimeTokens += t
		entry.realtimeCost += c
		entry.lastUpdated = time.Now()
		go l.incrementStore(userID, t, c)
	}

	return evaluate(&entry.rec)
}

// evaluate applies the quota rule to a record. The boundary is inclusive:
// only strictly exceeding a quota denies.
func evaluate(rec *UsageRecord) Decision {
	if !rec.Allowed {
		return deny(rec.Reason)
	}
	if rec.TokensQuota != nil && rec.TokensUsed > *rec.TokensQuota {
		return deny(rec.Reason)
	}
	if rec.CostQuota != nil && rec.CostUsed > *rec.CostQuota {
		return deny(rec.Reason)
	}
	return allow
}

// incrementStore pushes a consumption delta to the store and reconciles the
// cache to the post-increment record. Failures leave the optimistic local
// update in place; a lost store update is accepted by the consistency
// policy rather than rolled back.
func (l *UsageLimiter) incrementStore(userID string, tokens int64, cost float64) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
	defer cancel()

	rec, err := l.store.Increment(ctx, userID, tokens, cost)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.storeErrs.Add(1)
		}
		l.logger.Warn("usage increment failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if rec == nil {
		return
	}

	entry, ok := l.cache.Get(userID)
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.rec.TokensUsed = rec.TokensUsed
	entry.rec.CostUsed = rec.CostUsed
	entry.rec.UpdateID = rec.UpdateID
	entry.realtimeTokens -= tokens
	if entry.realtimeTokens < 0 {
		entry.realtimeTokens = 0
	}
	entry.realtimeCost -= cost
	if entry.realtimeCost < 0 {
		entry.realtimeCost = 0
	}
	entry.lastUpdated = time.Now()
	entry.mu.Unlock()
}

// syncLoop drives periodic reconciliation. Ticks are single-flight by
// construction: a slow tick delays the next, never overlaps it.
func (l *UsageLimiter) syncLoop() {
	ticker := time.NewTicker(l.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.syncOnce(context.Background())
		}
	}
}

// syncOnce runs one reconciliation tick: ensure the connection, consume
// clear signals, then overwrite cached entries from the authoritative
// records. Reconnection lives here and only here so failing request-path
// callers never stampede the store with their own reconnect attempts.
func (l *UsageLimiter) syncOnce(ctx context.Context) {
	if !l.store.Connected() {
		cctx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
		err := l.store.Connect(cctx)
		cancel()
		if err != nil {
			l.logger.Warn("quota store reconnect failed", slog.String("error", err.Error()))
			return
		}
		l.logger.Info("quota store connection established")
	}

	cleared, err := l.store.ScanClearSignals(ctx)
	for _, userID := range cleared {
		l.cache.Remove(userID)
		if derr := l.store.DeleteClearSignal(ctx, userID); derr != nil {
			l.logger.Warn("delete clear signal failed",
				slog.String("user_id", userID),
				slog.String("error", derr.Error()))
		}
	}
	if err != nil {
		// Scan aborted early; the record pass below still runs and will
		// fail fast if the connection is gone.
		l.logger.Warn("clear-signal scan aborted", slog.String("error", err.Error()))
	}

	userIDs, err := l.store.ScanUsers(ctx)
	if err != nil {
		l.logger.Warn("usage record scan aborted", slog.String("error", err.Error()))
	}
	for _, userID := range userIDs {
		if !l.cache.Contains(userID) {
			continue
		}
		rec, ferr := l.store.Fetch(ctx, userID)
		if errors.Is(ferr, ErrNotFound) {
			l.cache.Remove(userID)
			continue
		}
		if ferr != nil {
			l.storeErrs.Add(1)
			if errors.Is(ferr, ErrNoConnection) || isConnectionFailure(ferr) {
				l.logger.Warn("usage record sync aborted", slog.String("error", ferr.Error()))
				return
			}
			continue
		}
		// Authoritative overwrite; realtime counters reset to zero.
		l.cache.Add(userID, &cacheEntry{rec: *rec, lastUpdated: time.Now()})
	}
}

// ClearUserCache drops one user's cached status; the next check re-fetches.
func (l *UsageLimiter) ClearUserCache(userID string) {
	l.cache.Remove(userID)
}

// ClearCache drops every cached entry.
func (l *UsageLimiter) ClearCache() {
	l.cache.Purge()
}

// CacheSize returns the number of cached entries.
func (l *UsageLimiter) CacheSize() int {
	return l.cache.Len()
}

// GetMetrics returns a snapshot of the limiter's counters.
func (l *UsageLimiter) GetMetrics() Metrics {
	return Metrics{
		CacheHits:    l.hits.Load(),
		CacheMisses:  l.misses.Load(),
		StoreFetches: l.fetches.Load(),
		StoreErrors:  l.storeErrs.Load(),
		Allowed:      l.allowedCount.Load(),
		Denied:       l.deniedCount.Load(),
		CacheSize:    l.cache.Len(),
	}
}
