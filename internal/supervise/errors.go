package supervise

import (
	"fmt"
	"time"
)

// SpawnError means the process never started: executable missing,
// permission denied, or pipe setup failed. The task is recorded Failed.
type SpawnError struct {
	Task string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("task %q: spawning %s: %v", e.Task, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessTimeoutError means the process's own deadline fired and the
// termination sequence ran. The task is recorded TimedOut; captured output
// survives.
type ProcessTimeoutError struct {
	Task  string
	After time.Duration
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("task %q: process timed out after %s", e.Task, e.After.Round(time.Millisecond))
}

// CancelledError means the surrounding run or target scope ended (interrupt,
// global or per-target timeout) before the process finished. Kept distinct
// from ProcessTimeoutError so an interrupted task is not misreported as
// having exhausted its own timeout.
type CancelledError struct {
	Task  string
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %q: run scope ended: %v", e.Task, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }
