package model

import "time"

// IngestFrame carries the bytes read from one TCP connection with source metadata.
// It is the transport contract between the TCP server and frame processing.
type IngestFrame struct {
	Payload    []byte
	RemoteAddr string
	ConnID     string
	ReceivedAt time.Time
	Truncated  bool // payload hit the frame size cap
}
