package model

import "context"

// MetricWriter persists metric records.
type MetricWriter interface {
	WriteMetric(ctx context.Context, rec MetricRecord) error
}

// MetricReader serves the bounded read-side queries.
type MetricReader interface {
	Recent(ctx context.Context, limit int) ([]MetricRecord, error)
}

// HealthProber runs a database liveness probe. It never fails; failure is
// reported through the returned status.
type HealthProber interface {
	CheckHealth(ctx context.Context) HealthStatus
}

// Readiness lets callers await database availability instead of failing.
type Readiness interface {
	WaitReady(ctx context.Context) error
}

// MetricStore is the unified contract used by the ingest surfaces.
type MetricStore interface {
	MetricWriter
	MetricReader
	HealthProber
}
