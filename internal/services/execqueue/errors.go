package execqueue

import "errors"

var (
	// ErrQueueFull is returned by Submit when the admission queue is at capacity.
	ErrQueueFull = errors.New("execution queue full")
	// ErrStopped is returned by Submit when the queue is not running.
	ErrStopped = errors.New("execution queue stopped")
	// ErrShutdown resolves jobs that were still queued when the service stopped.
	ErrShutdown = errors.New("execution queue shut down before the job started")
)
