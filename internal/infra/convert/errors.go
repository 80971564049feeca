package convert

import (
	"errors"
	"fmt"
)

// ErrConvertTimeout marks a conversion whose external process exceeded its
// bound and was forcibly terminated. Retryable at the job level.
var ErrConvertTimeout = errors.New("conversion timed out")

// ConvertError reports a non-zero converter exit. Transient resource pressure
// is a common cause, so it is also retryable at the job level.
type ConvertError struct {
	ExitCode int
	Output   string
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("converter exited with code %d: %s", e.ExitCode, e.Output)
}
