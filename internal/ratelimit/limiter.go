// Package ratelimit keeps one token bucket per client key. The HTTP and TCP
// surfaces share the same store so a noisy processor is throttled on both.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultExpiresIn = 3 * time.Minute

// Config mirrors the rate-limit section of the gateway config.
type Config struct {
	RPS       float64
	Burst     int
	ExpiresIn time.Duration // idle buckets older than this are dropped
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store is an in-memory per-key limiter. A nil *Store allows everything.
type Store struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	expiresIn   time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewStore returns a limiter store, or nil when cfg.RPS is not positive.
func NewStore(cfg Config) *Store {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RPS)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultExpiresIn
	}
	return &Store{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(cfg.RPS),
		burst:     cfg.Burst,
		expiresIn: cfg.ExpiresIn,
		now:       time.Now,
	}
}

// Allow takes one token from key's bucket.
func (s *Store) Allow(key string) bool {
	if s == nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastCleanup) > s.expiresIn {
		s.cleanupLocked(now)
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Len reports how many buckets are tracked.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

func (s *Store) cleanupLocked(now time.Time) {
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.expiresIn {
			delete(s.visitors, key)
		}
	}
	s.lastCleanup = now
}
