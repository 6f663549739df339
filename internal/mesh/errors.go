package mesh

import "errors"

// Sentinel comms errors, matching the granularity of distinct failure
// modes a mesh connection can hit (send/receive/timeout/disconnect vs.
// one generic wrapped error).
var (
	ErrSend         = errors.New("mesh: send failed")
	ErrReceive      = errors.New("mesh: receive failed")
	ErrTimeout      = errors.New("mesh: timed out")
	ErrDisconnected = errors.New("mesh: peer disconnected")
	ErrRootServer   = errors.New("mesh: root server rejected request")
	ErrInternal     = errors.New("mesh: internal error")
)
