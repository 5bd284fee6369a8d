// Package errs provides the traced-error type used across deet: an error
// that remembers the call sites it passed through, so a diagnostic printed
// at the prompt carries enough context to track down without a full stack
// trace library.
package errs

import (
	"fmt"
	"runtime"
	"strings"
)

// TracedError wraps an error together with the chain of call frames it was
// passed through via Wrap/Errorf.
type TracedError struct {
	Err    error
	Frames []runtime.Frame
}

// Error implements the error interface.
func (e *TracedError) Error() string {
	str := fmt.Sprint(e.Err)
	for _, frame := range e.Frames {
		str += fmt.Sprintf("\n[%s:%d]", frame.Function, frame.Line)
	}
	return str
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *TracedError) Unwrap() error {
	return e.Err
}

// Wrap attaches the caller's frame to e, constructing a TracedError if
// necessary. Wrap(nil) returns nil so it is safe to use on the result of a
// call that may have succeeded.
func Wrap(e interface{}) *TracedError {
	if e == nil {
		return nil
	}

	frame := callerFrame()

	switch err := e.(type) {
	case *TracedError:
		err.Frames = append(err.Frames, frame)
		return err

	case error:
		return &TracedError{Err: err, Frames: []runtime.Frame{frame}}

	default:
		return &TracedError{Err: fmt.Errorf("%v", e), Frames: []runtime.Frame{frame}}
	}
}

// Errorf builds a new TracedError from a format string, in the caller's frame.
func Errorf(format string, args ...interface{}) *TracedError {
	return &TracedError{
		Err:    fmt.Errorf(format, args...),
		Frames: []runtime.Frame{callerFrame()},
	}
}

// Merge combines several errors into one TracedError. Returns nil for an
// empty slice.
func Merge(errors []error) *TracedError {
	if len(errors) == 0 {
		return nil
	}

	parts := make([]string, 0, len(errors))
	for _, err := range errors {
		parts = append(parts, fmt.Sprint(err))
	}

	return &TracedError{
		Err:    fmt.Errorf("%s", strings.Join(parts, "; ")),
		Frames: []runtime.Frame{callerFrame()},
	}
}

func callerFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()
	return frame
}
