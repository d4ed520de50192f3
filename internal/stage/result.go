// Package stage implements the four pipeline stage adapters: metric analysis,
// behavior analysis, nutrition planning, and routine planning.
//
// Every adapter returns a Result instead of an error: faults are captured at
// the adapter boundary and become Failed results the orchestrator can branch
// on. Nothing propagates out of a stage as a raised fault.
package stage

import "fmt"

// Result is the tagged outcome of one stage: either a value or a
// human-readable failure reason. The zero value is a failed result with no
// reason, which callers should never observe — use OK or Fail.
type Result[T any] struct {
	Value  T
	Reason string
	OK     bool
}

// OK wraps a successful stage value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v, OK: true}
}

// Fail wraps a failure reason.
func Fail[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

// Failf wraps a formatted failure reason.
func Failf[T any](format string, args ...any) Result[T] {
	return Result[T]{Reason: fmt.Sprintf(format, args...)}
}
