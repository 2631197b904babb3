package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// stackTracer identifies errors that carry a stack trace,
// i.e. errors created via the github.com/pkg/errors wrapping functions.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// errNoStackTrace wraps an error without exposing its stack trace.
type errNoStackTrace struct {
	e error
}

// Error returns the error message of the wrapped error.
func (e errNoStackTrace) Error() string {
	return e.e.Error()
}

// Error returns a zap.Field for logging the provided error.
// Stack traces from the pkg/errors library are suppressed in the log output,
// everything else is logged as is.
func Error(e error) zap.Field {
	if _, ok := e.(stackTracer); ok {
		return zap.Error(errNoStackTrace{e})
	}

	return zap.Error(e)
}
