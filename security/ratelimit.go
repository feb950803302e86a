package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitMaxEntries bounds the number of tracked identifiers.
	DefaultRateLimitMaxEntries = 10000

	defaultRateLimitCleanupInterval = 5 * time.Minute
	defaultRateLimitIdleTimeout     = 30 * time.Minute
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per identifier.
	RequestsPerSecond float64

	// Burst is the bucket size per identifier.
	Burst int

	// MaxEntries caps tracked identifiers; the least recently used one is
	// evicted beyond it. Zero uses DefaultRateLimitMaxEntries.
	MaxEntries int

	// IdleTimeout removes identifiers not seen for this long.
	IdleTimeout time.Duration

	// CleanupInterval is how often idle identifiers are swept.
	CleanupInterval time.Duration

	Logger *slog.Logger
}

type limiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token bucket per identifier (client IP or client_id),
// held in an LRU so distributed callers cannot grow it without bound.
type RateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	limit    rate.Limit
	burst    int
	max      int
	idle     time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once

	evictions int64
}

// NewRateLimiter creates a limiter and starts its idle sweep. Callers must Stop it.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultRateLimitMaxEntries
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultRateLimitIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultRateLimitCleanupInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	rl := &RateLimiter{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		max:     cfg.MaxEntries,
		idle:    cfg.IdleTimeout,
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
	}

	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Allow reports whether one more request from identifier fits in its bucket.
func (rl *RateLimiter) Allow(identifier string) bool {
	ok, _ := rl.Reserve(identifier)
	return ok
}

// Reserve is Allow that also returns how long the caller should wait before
// retrying when the request is rejected.
func (rl *RateLimiter) Reserve(identifier string) (bool, time.Duration) {
	now := time.Now()
	limiter := rl.limiterFor(identifier, now)

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) limiterFor(identifier string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[identifier]; ok {
		rl.lru.MoveToFront(elem)
		e := elem.Value.(*limiterEntry)
		e.lastAccess = now
		return e.limiter
	}

	if len(rl.entries) >= rl.max {
		rl.evictOldestLocked()
	}

	e := &limiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[identifier] = rl.lru.PushFront(e)
	return e.limiter
}

func (rl *RateLimiter) evictOldestLocked() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	e := elem.Value.(*limiterEntry)
	delete(rl.entries, e.identifier)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.entries))
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.idle)
		case <-rl.stop:
			return
		}
	}
}

// Cleanup drops identifiers idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	// Walk from the least recently used end and stop at the first fresh entry.
	for elem := rl.lru.Back(); elem != nil; {
		e := elem.Value.(*limiterEntry)
		if now.Sub(e.lastAccess) <= maxIdle {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, e.identifier)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries))
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
