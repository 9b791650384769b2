// Package dbpool owns the gateway's bounded set of database connections.
//
// A Pool moves through Uninitialized -> Retrying -> Ready -> Closed. Initialize
// retries forever at a fixed interval so the gateway comes up whenever the
// database does; once Ready, connection failures are returned to callers and
// never retried here.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/model"
)

// State is the pool lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRetrying
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRetrying:
		return "retrying"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultMaxOpenConns   = 10
	defaultConnectTimeout = 5 * time.Second
)

// Config holds the connection target and pool bounds.
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	RetryInterval   time.Duration // wait between failed startup attempts
	ConnectTimeout  time.Duration // bound on each startup ping

	// OnRetry, when set, is called after every failed startup attempt.
	OnRetry func(attempt int, err error)
}

// Pool is a lifecycle-managed *sql.DB. It is safe for concurrent use.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	// open and wait are replaced in tests to simulate an unreachable database.
	open func(ctx context.Context) (*sql.DB, error)
	wait func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	state    State
	db       *sql.DB
	attempts int

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates an uninitialized pool. No connection is made until Initialize.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 || cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = model.DefaultRetryInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "dbpool"), zap.String("driver", cfg.Dialect.Name)),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	p.open = p.openDB
	p.wait = waitFor
	return p
}

// Initialize connects the pool, retrying every RetryInterval until the
// database answers, the pool is shut down, or ctx is done. There is no
// attempt limit.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateReady:
		p.mu.Unlock()
		return nil
	case StateClosed:
		p.mu.Unlock()
		return model.ErrPoolClosed
	}
	p.mu.Unlock()

	// Shutdown interrupts an in-progress attempt or backoff wait.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 1; ; attempt++ {
		db, err := p.open(ctx)
		if err == nil {
			return p.markReady(db, attempt)
		}

		p.mu.Lock()
		if p.state == StateClosed {
			p.mu.Unlock()
			return model.ErrPoolClosed
		}
		p.state = StateRetrying
		p.attempts = attempt
		p.mu.Unlock()

		p.logger.Warn("error connecting to database, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", p.cfg.RetryInterval),
			zap.Error(err))
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(attempt, err)
		}

		if err := p.wait(ctx, p.cfg.RetryInterval); err != nil {
			if p.State() == StateClosed {
				return model.ErrPoolClosed
			}
			return err
		}
	}
}

func (p *Pool) markReady(db *sql.DB, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateClosed:
		_ = db.Close()
		return model.ErrPoolClosed
	case StateReady:
		// A concurrent Initialize won.
		_ = db.Close()
		return nil
	}
	p.db = db
	p.state = StateReady
	p.attempts = attempt
	close(p.ready)

	p.logger.Info("database connection established", zap.Int("attempts", attempt))
	return nil
}

// openDB opens the pool and verifies it with a bounded ping.
func (p *Pool) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(p.cfg.Dialect.DriverName, p.cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// waitFor suspends the calling goroutine for d or until ctx is done.
func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitReady blocks until the pool is Ready, closed, or ctx is done.
func (p *Pool) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-p.closed:
		return model.ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", model.ErrNotReady, ctx.Err())
	}
}

// Acquire takes a connection from the pool. It fails immediately when the
// pool is not Ready and otherwise blocks only the caller while the pool is
// saturated.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.RLock()
	state, db := p.state, p.db
	p.mu.RUnlock()

	switch state {
	case StateReady:
	case StateClosed:
		return nil, fmt.Errorf("%w: %w", model.ErrConnectivity, model.ErrPoolClosed)
	default:
		return nil, fmt.Errorf("%w: %w (state %s)", model.ErrConnectivity, model.ErrNotReady, state)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", model.ErrConnectivity, err)
	}
	return conn, nil
}

// Release returns conn to the pool.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		p.logger.Debug("release connection", zap.Error(err))
	}
}

// Shutdown closes every pooled connection. It is idempotent and may be called
// before or during Initialize, which then returns ErrPoolClosed.
func (p *Pool) Shutdown() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		db := p.db
		p.db = nil
		p.state = StateClosed
		close(p.closed)
		p.mu.Unlock()

		if db != nil {
			err = db.Close()
		}
		p.logger.Info("database pool closed")
	})
	return err
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Attempts returns the number of connection attempts made so far.
func (p *Pool) Attempts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempts
}

// Dialect returns the pool's SQL dialect.
func (p *Pool) Dialect() Dialect {
	return p.cfg.Dialect
}

// Stats returns database/sql pool statistics; zero before Ready.
func (p *Pool) Stats() sql.DBStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}
