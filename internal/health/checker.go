// Package health answers database liveness questions for the HTTP surface.
package health

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	DefaultCacheTTL = time.Second
	enabledKey      = "enabled"
)

// Config tunes the checker.
type Config struct {
	// Timeout bounds each probe run through Enabled. Defaults to 3s.
	Timeout time.Duration
	// CacheTTL is how long an Enabled result is reused. Zero disables caching.
	CacheTTL time.Duration
}

// Checker wraps a HealthProber with a timeout and a short-lived result cache.
type Checker struct {
	prober   model.HealthProber
	timeout  time.Duration
	cacheTTL time.Duration
	cache    *ristretto.Cache
	logger   *zap.Logger
}

// NewChecker builds a checker around prober.
func NewChecker(prober model.HealthProber, cfg Config, logger *zap.Logger) (*Checker, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = model.DefaultHealthTimeout
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Checker{
		prober:   prober,
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		logger:   logger.With(zap.String("component", "health")),
	}
	if cfg.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters:        100,
			MaxCost:            1 << 10,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Check runs the probe directly, without timeout or cache.
func (c *Checker) Check(ctx context.Context) model.HealthStatus {
	return c.prober.CheckHealth(ctx)
}

// Probe runs the probe bounded by the configured timeout. A probe still
// running at the deadline resolves to unhealthy; its goroutine finishes on
// its own and its result is discarded.
func (c *Checker) Probe(ctx context.Context) model.HealthStatus {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan model.HealthStatus, 1)
	go func() {
		done <- c.prober.CheckHealth(pctx)
	}()

	select {
	case status := <-done:
		return status
	case <-pctx.Done():
		c.logger.Warn("health probe timed out", zap.Duration("timeout", c.timeout))
		return model.Unhealthy("DB Connection Error: health check timed out after %s", c.timeout)
	}
}

// Enabled reports whether the database is currently reachable, reusing a
// recent answer when caching is on.
func (c *Checker) Enabled(ctx context.Context) bool {
	if c.cache != nil {
		if v, ok := c.cache.Get(enabledKey); ok {
			return v.(bool)
		}
	}

	ok := c.Probe(ctx).OK
	if c.cache != nil {
		c.cache.SetWithTTL(enabledKey, ok, 1, c.cacheTTL)
		c.cache.Wait()
	}
	return ok
}

// Close releases the cache.
func (c *Checker) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
