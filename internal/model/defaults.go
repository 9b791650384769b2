package model

import "time"

// Shared defaults used by the gateway binary and its packages.
const (
	DefaultTCPMaxFrameSize = 100
	DefaultRetryInterval   = 5 * time.Second
	DefaultHealthTimeout   = 3 * time.Second
	DefaultTable           = "testextron"
)
