package query

import (
	"errors"
	"fmt"

	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/repository"
)

// ErrMissingTimestamp rejects direct writes without a local_time. Broker
// ingestion substitutes a sentinel instead; a caller can simply retry.
var ErrMissingTimestamp = errors.New("local_time is required")

// Error tags a failed query or write with the operation and appliance.
type Error struct {
	Op        string
	Appliance string
	Err       error
}

func (e *Error) Error() string {
	if e.Appliance == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Appliance, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalid reports whether err was caused by a bad request payload.
func IsInvalid(err error) bool {
	var de *decoder.DecodeError
	return errors.As(err, &de) || errors.Is(err, ErrMissingTimestamp)
}

// IsUnavailable reports whether err was caused by an unreachable or slow
// store, so the caller may retry later.
func IsUnavailable(err error) bool {
	return repository.IsRetryable(err)
}
