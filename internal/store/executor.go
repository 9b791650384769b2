// Package store executes sanitized, parameterized statements against the
// connection pool and exposes the metric-level API on top of them.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	defaultQueryTimeout = 30 * time.Second

	// DefaultMaxRows caps the rows a single query returns.
	DefaultMaxRows = 1000
)

// ConnPool hands out scoped database connections.
type ConnPool interface {
	Acquire(ctx context.Context) (*sql.Conn, error)
	Release(conn *sql.Conn)
}

// Executor runs statements on connections taken from a ConnPool. Every
// operation releases its connection on all exit paths. Nothing is retried.
type Executor struct {
	pool         ConnPool
	QueryTimeout time.Duration
	// MaxRows caps returned rows. Rows past it are dropped with a warning.
	MaxRows int
	Logger  *zap.Logger
}

// NewExecutor creates an executor. queryTimeout bounds each statement; it
// defaults to 30s.
func NewExecutor(pool ConnPool, queryTimeout time.Duration) *Executor {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Executor{
		pool:         pool,
		QueryTimeout: queryTimeout,
		MaxRows:      DefaultMaxRows,
		Logger:       zap.NewNop(),
	}
}

// Write executes statement with params bound as parameters inside a
// transaction and commits it. Once a connection is held the write is no
// longer cancelled by ctx; only QueryTimeout bounds it.
func (e *Executor) Write(ctx context.Context, statement string, params ...any) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(conn)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.QueryTimeout)
	defer cancel()

	tx, err := conn.BeginTx(wctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(wctx, statement, params...); err != nil {
		return classify("execute statement", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

// Read runs a caller-supplied read-only query. The text must be a single
// SELECT or WITH statement; it is then escaped and executed as-is.
// Escaping does not make arbitrary query text safe, so only trusted
// callers should reach this path. At most MaxRows rows come back; a result
// cut at that limit is logged at warn level.
func (e *Executor) Read(ctx context.Context, rawQuery string) ([][]any, error) {
	if err := checkReadOnly(rawQuery); err != nil {
		return nil, fmt.Errorf("%w: rejected read: %w", model.ErrQuery, err)
	}
	return e.Query(ctx, Sanitize(strings.TrimSpace(rawQuery)))
}

// Query runs a server-built statement with bound args and returns every row
// as an ordered slice of column values, capped at MaxRows rows.
func (e *Executor) Query(ctx context.Context, statement string, args ...any) ([][]any, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(conn)

	qctx, cancel := context.WithTimeout(ctx, e.QueryTimeout)
	defer cancel()

	rows, err := conn.QueryContext(qctx, statement, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify("read columns", err)
	}

	limit := e.MaxRows
	if limit <= 0 {
		limit = DefaultMaxRows
	}
	results := make([][]any, 0)
	for rows.Next() {
		if len(results) == limit {
			e.logger().Warn("query result cut at row limit",
				zap.Int("max_rows", limit),
				zap.String("statement", statement))
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan row", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		results = append(results, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate rows", err)
	}
	return results, nil
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Ping acquires a connection and runs SELECT 1.
func (e *Executor) Ping(ctx context.Context) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.pool.Release(conn)

	qctx, cancel := context.WithTimeout(ctx, e.QueryTimeout)
	defer cancel()

	var one int
	if err := conn.QueryRowContext(qctx, "SELECT 1").Scan(&one); err != nil {
		return classify("liveness query", err)
	}
	return nil
}

// classify wraps err as ErrConnectivity when the connection itself failed
// and as ErrQuery otherwise.
func classify(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %s: %w", model.ErrConnectivity, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", model.ErrQuery, op, err)
	}
}
