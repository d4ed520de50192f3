package stage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
)

// stubClient is a canned inference capability for tests.
type stubClient struct {
	text    string
	raw     string
	err     error
	prompts []string
}

func (s *stubClient) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *stubClient) GenerateJSON(_ context.Context, prompt string, _ map[string]any) (json.RawMessage, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.raw), nil
}

var errStub = errors.New("model unavailable")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
