package mealplanner

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the grocery API rejects the credentials. It is fatal to a run.
	ErrUnauthorized = errors.New("grocery api: unauthorized")

	// ErrNotFound is returned when the grocery API has no record for a lookup.
	ErrNotFound = errors.New("grocery api: not found")

	// ErrMalformedOutput is returned when a model response cannot be decoded into the expected shape.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrRateLimitDeadline is returned when waiting for the grocery API rate limit would run past the
	// context deadline. It matches context.DeadlineExceeded and is fatal to a run.
	ErrRateLimitDeadline = fmt.Errorf("grocery api: rate limit wait exceeds deadline: %w", context.DeadlineExceeded)

	// ErrContractViolation is returned when a stage produces output that breaks a pipeline invariant.
	ErrContractViolation = errors.New("stage contract violation")
)

// StageError names the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
