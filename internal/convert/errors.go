package convert

import (
	"fmt"
	"time"
)

// UnavailableError reports a required external tool missing from the host.
type UnavailableError struct {
	Tool string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s not available: %v", e.Tool, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError reports an external conversion exceeding its deadline.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Tool, e.Timeout)
}

// Error reports a conversion that ran and failed.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s conversion failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
