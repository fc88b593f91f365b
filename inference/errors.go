package inference

import "fmt"

// Error reports a failed inference for a single frame. The frame is skipped and
// the loop continues.
type Error struct {
	// Op is the pipeline stage that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

// NewError wraps err as an inference failure in the given stage.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
