package native

import (
	"errors"
	"fmt"
	"time"
)

// Status tags how a native invocation ended. The router matches on it to
// decide whether to fall back.
type Status int

const (
	// StatusOK means the native call succeeded and Value is set.
	StatusOK Status = iota
	// StatusUnavailable means the module is not loaded.
	StatusUnavailable
	// StatusEncodingError means an argument could not be represented.
	StatusEncodingError
	// StatusFault means the call trapped, panicked, timed out, returned a
	// null buffer, or its result could not be decoded or released.
	StatusFault
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusEncodingError:
		return "encoding_error"
	case StatusFault:
		return "fault"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one native invocation.
type Outcome struct {
	Status  Status
	Value   any
	Latency time.Duration
	Err     error
}

// OK reports whether the native path produced Value.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

var (
	// ErrUnavailable is the cause attached to StatusUnavailable outcomes.
	ErrUnavailable = errors.New("native capability unavailable")

	// ErrEncoding matches every *EncodingError.
	ErrEncoding = errors.New("argument encoding error")

	// ErrRuntimeFault matches every *RuntimeFault.
	ErrRuntimeFault = errors.New("native runtime fault")

	// ErrNullBuffer is returned when a buffer result or allocation has a
	// zero pointer.
	ErrNullBuffer = errors.New("null native buffer")

	// ErrInvalidUTF8 is returned for text arguments that are not UTF-8.
	ErrInvalidUTF8 = errors.New("text is not valid UTF-8")
)

// EncodingError reports an argument the calling convention cannot carry.
type EncodingError struct {
	Arg int
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode argument %d: %v", e.Arg, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, native.ErrEncoding)
func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// Fault phases.
const (
	PhaseInstantiate = "instantiate"
	PhaseMarshal     = "marshal"
	PhaseCall        = "call"
	PhaseTimeout     = "timeout"
	PhasePanic       = "panic"
	PhaseDecode      = "decode"
	PhaseRelease     = "release"
)

// RuntimeFault reports a failure inside or around a native call. It never
// propagates past the Adapter as a Go error; it is carried in the Outcome.
type RuntimeFault struct {
	Module string
	Symbol string
	Phase  string
	Err    error
}

func (e *RuntimeFault) Error() string {
	return fmt.Sprintf("%s.%s %s: %v", e.Module, e.Symbol, e.Phase, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RuntimeFault) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, native.ErrRuntimeFault)
func (e *RuntimeFault) Is(target error) bool {
	return target == ErrRuntimeFault
}
