// Package inference wraps the external language-model capability behind a
// small interface: a fully-formatted prompt in, either free text or a
// schema-conformant JSON value out. No retry policy lives here — callers own
// their failure semantics.
package inference

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrDisabled is returned by the Disabled client when no model is configured.
var ErrDisabled = errors.New("inference: disabled")

// Client is the inference capability consumed by the stage adapters.
// Implementations must enforce their own bounded wait so a hung upstream
// surfaces as an error instead of blocking the pipeline.
type Client interface {
	// GenerateText returns the model's free-text completion for prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateJSON constrains the completion to the given JSON schema and
	// returns the raw conforming document.
	GenerateJSON(ctx context.Context, prompt string, schema map[string]any) (json.RawMessage, error)
}

// Disabled is a Client for deployments without a configured model.
// Every call fails with ErrDisabled, which stage adapters convert into
// ordinary failed stage results.
type Disabled struct{}

// GenerateText always returns ErrDisabled.
func (Disabled) GenerateText(context.Context, string) (string, error) {
	return "", ErrDisabled
}

// GenerateJSON always returns ErrDisabled.
func (Disabled) GenerateJSON(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, ErrDisabled
}
