package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidInput = errors.New("invalid execution input")
	ErrResource     = errors.New("execution resource unavailable")
	ErrSpawn        = errors.New("process spawn failed")
	ErrEngineDown   = errors.New("container engine unavailable")
	ErrClosed       = errors.New("runner is shut down")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsInvalidInput returns true if the error stems from a malformed request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsSpawn returns true if the process or container never started.
// Spawn failures are terminal: the attempt is not retried.
func IsSpawn(err error) bool {
	return errors.Is(err, ErrSpawn)
}
