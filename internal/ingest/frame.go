// Package ingest turns raw TCP frames from control processors into metric
// records and persists them.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/tinytelemetry/metricgw/internal/model"
)

// ParseFrame decodes one frame of the form
//
//	{"room": "GLNN210", "metric": "Camera", "action": "Started"}
//
// Processors cannot report time, so the record is stamped with receivedAt.
// Keys that are missing or not strings count as absent. Every failure wraps
// model.ErrMalformedInput.
func ParseFrame(payload []byte, receivedAt time.Time) (model.MetricRecord, error) {
	if !utf8.Valid(payload) {
		return model.MetricRecord{}, fmt.Errorf("%w: frame is not valid UTF-8", model.ErrMalformedInput)
	}

	// Processor drivers pad or terminate the string.
	payload = bytes.TrimRight(payload, " \t\r\n\x00")
	if len(payload) == 0 || payload[0] != '{' {
		return model.MetricRecord{}, fmt.Errorf("%w: frame does not start with '{'", model.ErrMalformedInput)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return model.MetricRecord{}, fmt.Errorf("%w: decode frame: %w", model.ErrMalformedInput, err)
	}

	rec := model.MetricRecord{
		Subject:    stringField(fields, "room"),
		Timestamp:  model.FormatTimestamp(receivedAt),
		MetricName: stringField(fields, "metric"),
		Action:     stringField(fields, "action"),
	}
	if rec.Subject == "" {
		return model.MetricRecord{}, fmt.Errorf("%w: frame has no room", model.ErrMalformedInput)
	}
	if err := rec.Validate(); err != nil {
		return model.MetricRecord{}, err
	}
	return rec, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
