package vitalia

import (
	"context"
	"encoding/json"
)

// InferenceClient generates text and schema-constrained JSON from prompts.
// Implementations must enforce their own bounded wait so a hung upstream
// surfaces as an error instead of blocking a run.
type InferenceClient interface {
	// GenerateText returns the model's free-text completion for prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)

	// GenerateJSON constrains the completion to the given JSON schema and
	// returns the raw conforming document.
	GenerateJSON(ctx context.Context, prompt string, schema map[string]any) (json.RawMessage, error)
}

// EmbeddingProvider generates vector embeddings from text, used for
// semantic recall over prior analysis narratives.
type EmbeddingProvider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}
