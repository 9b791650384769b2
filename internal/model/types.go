package model

import (
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 second-precision layout used for the
// time column. Control processors format their own clock the same way.
const TimestampLayout = "2006-01-02T15:04:05"

// MetricRecord is one usage event reported by a control processor.
// It is built per request, written once, and never retained.
type MetricRecord struct {
	Subject    string `json:"room"` // processor or room identifier
	Timestamp  string `json:"time"`
	MetricName string `json:"metric"`
	Action     string `json:"action"`
}

// Validate reports an ErrMalformedInput when any field is empty.
func (r MetricRecord) Validate() error {
	switch {
	case r.Subject == "":
		return fmt.Errorf("%w: missing subject", ErrMalformedInput)
	case r.Timestamp == "":
		return fmt.Errorf("%w: missing time", ErrMalformedInput)
	case r.MetricName == "":
		return fmt.Errorf("%w: missing metric", ErrMalformedInput)
	case r.Action == "":
		return fmt.Errorf("%w: missing action", ErrMalformedInput)
	}
	return nil
}

// Fields returns the record as the ordered (subject, time, metric, action) tuple.
func (r MetricRecord) Fields() []string {
	return []string{r.Subject, r.Timestamp, r.MetricName, r.Action}
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// HealthStatus is the result of a database liveness probe.
// A failed probe always carries a non-empty Message.
type HealthStatus struct {
	OK      bool
	Message string
}

// Healthy returns the passing status.
func Healthy() HealthStatus {
	return HealthStatus{OK: true}
}

// Unhealthy returns a failing status with the given detail.
func Unhealthy(format string, args ...any) HealthStatus {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = "unknown error"
	}
	return HealthStatus{OK: false, Message: msg}
}
