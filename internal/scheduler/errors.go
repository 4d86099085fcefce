package scheduler

import "errors"

var (
	// ErrLoopStopped is returned when work is submitted to a loop that has been stopped.
	ErrLoopStopped = errors.New("scheduler loop is stopped")

	// ErrTaskPanicked is returned by Do when the task panicked on the loop.
	ErrTaskPanicked = errors.New("scheduler task panicked")
)
