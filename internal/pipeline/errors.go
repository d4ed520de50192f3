package pipeline

import "errors"

var (
	// ErrFatalInput rejects a run before any stage executes.
	ErrFatalInput = errors.New("pipeline: invalid input")

	// ErrTelemetryUnavailable aborts a run: without telemetry there is
	// nothing to analyze, no patches are written, no audit entries appended.
	ErrTelemetryUnavailable = errors.New("pipeline: telemetry unavailable")
)
