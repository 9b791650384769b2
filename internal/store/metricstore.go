package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	// DefaultRecentLimit is the Recent row count when none is requested.
	DefaultRecentLimit = 50
	// MaxRecentLimit is the largest row count Recent will return.
	MaxRecentLimit = 500
)

// tableNamePattern accepts "table" or "schema.table" identifiers. The table
// name comes from configuration and is spliced into statement text, so it is
// checked once here instead of per request.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// StatementRunner is the executor contract MetricStore builds on.
type StatementRunner interface {
	Write(ctx context.Context, statement string, params ...any) error
	Read(ctx context.Context, rawQuery string) ([][]any, error)
	Query(ctx context.Context, statement string, args ...any) ([][]any, error)
	Ping(ctx context.Context) error
}

// Placeholders renders bind markers for the configured SQL dialect.
type Placeholders interface {
	Placeholder(n int) string
	Placeholders(count int) string
}

// MetricStore is the metric-level API: write one record, bounded reads and
// the liveness probe.
type MetricStore struct {
	exec   StatementRunner
	table  string
	insert string
	recent string
	logger *zap.Logger
}

// NewMetricStore validates table and prepares the statement text.
func NewMetricStore(exec StatementRunner, dialect Placeholders, table string, logger *zap.Logger) (*MetricStore, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricStore{
		exec:  exec,
		table: table,
		insert: fmt.Sprintf(
			"INSERT INTO %s (room, time, metric, action) VALUES (%s)",
			table, dialect.Placeholders(4),
		),
		recent: fmt.Sprintf(
			"SELECT room, time, metric, action FROM %s ORDER BY time DESC LIMIT %s",
			table, dialect.Placeholder(1),
		),
		logger: logger.With(zap.String("component", "store"), zap.String("table", table)),
	}, nil
}

// Table returns the configured table name.
func (m *MetricStore) Table() string {
	return m.table
}

// WriteMetric sanitizes each field of rec independently and inserts the
// sanitized tuple as bound parameters.
func (m *MetricStore) WriteMetric(ctx context.Context, rec model.MetricRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	sanitized := SanitizeAll(rec.Fields()...)
	params := make([]any, len(sanitized))
	for i, v := range sanitized {
		params[i] = v
	}

	if err := m.exec.Write(ctx, m.insert, params...); err != nil {
		return fmt.Errorf("write metric: %w", err)
	}
	m.logger.Debug("metric written",
		zap.String("room", rec.Subject),
		zap.String("metric", rec.MetricName),
		zap.String("action", rec.Action))
	return nil
}

// Read runs a trusted read-only query; see Executor.Read.
func (m *MetricStore) Read(ctx context.Context, rawQuery string) ([][]any, error) {
	return m.exec.Read(ctx, rawQuery)
}

// Recent returns the newest records, limit clamped to [1, MaxRecentLimit].
func (m *MetricStore) Recent(ctx context.Context, limit int) ([]model.MetricRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}

	rows, err := m.exec.Query(ctx, m.recent, limit)
	if err != nil {
		return nil, fmt.Errorf("read recent metrics: %w", err)
	}

	records := make([]model.MetricRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) != 4 {
			continue
		}
		records = append(records, model.MetricRecord{
			Subject:    columnString(row[0]),
			Timestamp:  columnString(row[1]),
			MetricName: columnString(row[2]),
			Action:     columnString(row[3]),
		})
	}
	return records, nil
}

// CheckHealth runs the liveness query. It reports failure through the
// returned status and never returns an error.
func (m *MetricStore) CheckHealth(ctx context.Context) model.HealthStatus {
	if err := m.exec.Ping(ctx); err != nil {
		m.logger.Warn("database health check failed", zap.Error(err))
		return model.Unhealthy("DB Connection Error: %v", err)
	}
	return model.Healthy()
}

func columnString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return model.FormatTimestamp(t)
	default:
		return fmt.Sprint(t)
	}
}
