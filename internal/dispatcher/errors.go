// Package dispatcher implements the admission loop, worker-per-client
// state machine, and signal-driven graceful teardown (C6).
package dispatcher

import "errors"

// ErrShuttingDown is returned by admit once Shutdown has been called, so a
// record drained from the ring during teardown is not handed to a worker
// that has nowhere to report back to.
var ErrShuttingDown = errors.New("dispatcher: shutting down")
