package model

import "errors"

var (
	// ErrConnectivity means the database could not be reached.
	// Only pool initialization retries it.
	ErrConnectivity = errors.New("database connectivity error")

	// ErrQuery means a statement failed on a working connection.
	ErrQuery = errors.New("database query error")

	// ErrMalformedInput means an inbound message failed decoding or validation.
	ErrMalformedInput = errors.New("malformed input")

	// ErrNotReady is returned (wrapped in ErrConnectivity) when the pool has
	// not finished initializing.
	ErrNotReady = errors.New("connection pool not ready")

	// ErrPoolClosed is returned once the pool has been shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)

// IsDatabaseError reports whether err came from the database layer.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrConnectivity) || errors.Is(err, ErrQuery)
}
