package utils

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for metric computation. Every failure is scoped to a
// single (symbol, metric) unit; callers match with errors.Is.
var (
	// ErrInsufficientData indicates the requested window exceeds the
	// available history. Recoverable once more bars arrive.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidParameters indicates a bad period or parameter set,
	// rejected before any computation runs.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrOutOfOrderBar indicates a stale or duplicate bar delivery.
	ErrOutOfOrderBar = errors.New("out-of-order bar")

	// ErrComputationTimeout indicates a bounded wait on an in-flight
	// computation expired. Transient; callers may retry.
	ErrComputationTimeout = errors.New("computation timeout")

	// ErrDegenerateInput indicates statistically degenerate input, e.g.
	// a zero-variance benchmark for beta.
	ErrDegenerateInput = errors.New("degenerate input")
)

// InsufficientDataError wraps ErrInsufficientData with the window sizes involved.
func InsufficientDataError(need, have int) error {
	return fmt.Errorf("%w: need %d bars, have %d", ErrInsufficientData, need, have)
}

// InvalidParametersError wraps ErrInvalidParameters with a formatted reason.
func InvalidParametersError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
