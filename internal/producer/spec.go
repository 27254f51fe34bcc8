package producer

import (
	"errors"
	"fmt"
	"time"
)

// NoFailure marks a Spec without an injected failure offset.
const NoFailure int64 = -1

// Spec holds the immutable parameters of one producer.
type Spec struct {
	Index    int
	Size     int64
	Duration time.Duration
	FailAt   int64 // NoFailure, or a byte offset strictly below Size
	Seed     int64
}

// HasFailure reports whether a failure offset is configured.
func (s Spec) HasFailure() bool {
	return s.FailAt >= 0
}

// Validate rejects negative sizes or durations and a FailAt outside [0, Size).
func (s Spec) Validate() error {
	if s.Size < 0 {
		return fmt.Errorf("producer %d: size must be >= 0, got %d", s.Index, s.Size)
	}
	if s.Duration < 0 {
		return fmt.Errorf("producer %d: duration must be >= 0, got %s", s.Index, s.Duration)
	}
	if s.HasFailure() && s.FailAt >= s.Size {
		return fmt.Errorf("producer %d: fail offset %d must be < size %d", s.Index, s.FailAt, s.Size)
	}
	if s.FailAt < NoFailure {
		return fmt.Errorf("producer %d: invalid fail offset %d", s.Index, s.FailAt)
	}
	return nil
}

// ErrFailureRequested matches every injected failure.
var ErrFailureRequested = errors.New("failure requested")

// ErrSchedulerStopped is returned when the next step could not be scheduled.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// ErrClosed is the failure cause of a producer closed before it finished.
var ErrClosed = errors.New("producer closed before completion")

// FailureError is the cause of an injected failure.
type FailureError struct {
	Index  int
	Offset int64
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("failure requested at byte %d", e.Offset)
}

// Is makes errors.Is(err, ErrFailureRequested) true for every FailureError.
func (e *FailureError) Is(target error) bool {
	return target == ErrFailureRequested
}
