// Package ring implements the bounded shared-memory admission queue (C1)
// that decouples clients (producers) from the dispatcher (consumer).
package ring

import "errors"

// Error taxonomy per spec §7. The ring layer never exits the process;
// every failure is returned so the caller can decide.
var (
	ErrInvalidArgument     = errors.New("ring: invalid argument")
	ErrAlreadyInUse        = errors.New("ring: shared region name already in use")
	ErrSharedMemoryFailure = errors.New("ring: shared memory failure")
	ErrSemaphoreFailure    = errors.New("ring: semaphore failure")
	ErrServerBusy          = errors.New("ring: server busy")
	ErrInterrupted         = errors.New("ring: interrupted")
	ErrClosed              = errors.New("ring: closed")
)
