package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// GenParams are the generation knobs forwarded to the provider. Nil pointer
// fields are omitted from the request so provider-side defaults apply.
type GenParams struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	MaxTokens        int64    `json:"max_tokens,omitempty"`
}

// Request describes one completion call.
type Request struct {
	Provider ID
	Model    string

	// APIKey and BaseURL override the registry defaults when set.
	APIKey  string
	BaseURL string

	System string
	Prompt string

	Params GenParams

	// SchemaName/Schema request structured output when the provider supports
	// it. Schema is a JSON-schema object, typically produced by
	// ResponseSchema.
	SchemaName string
	Schema     map[string]any
}

// Resolve fills registry defaults into a copy of the request and validates it.
func (r Request) Resolve() (Request, error) {
	d, err := Lookup(r.Provider)
	if err != nil {
		return Request{}, fmt.Errorf("Resolve: %w", err)
	}
	if r.Model == "" {
		r.Model = d.DefaultModel
	}
	if r.Model == "" {
		return Request{}, fmt.Errorf("Resolve: no model configured for provider %q", r.Provider)
	}
	if r.BaseURL == "" {
		r.BaseURL = d.BaseURL
	}
	if r.APIKey == "" {
		r.APIKey = os.Getenv(d.KeyEnv)
	}
	if r.APIKey == "" && r.Provider != Ollama {
		return Request{}, fmt.Errorf("Resolve: missing API key for provider %q (set %s)", r.Provider, d.KeyEnv)
	}
	if r.Prompt == "" {
		return Request{}, errors.New("Resolve: prompt is empty")
	}
	if r.Schema != nil && !d.SupportsJSONMode {
		// Providers without JSON mode still get the field contract, but only
		// through the prompt; drop the wire-level format request.
		r.Schema = nil
	}
	return r, nil
}

// ChunkFunc receives streaming updates: the newly-arrived delta and the full
// accumulated text so far. Downstream extraction always works from the
// accumulated text, never from deltas.
type ChunkFunc func(delta, accumulated string)

// Backend is the LLM collaborator contract. Complete returns the final
// accumulated text; onChunk may be nil for non-streaming consumption.
// Cancellation happens through ctx; an aborted call returns an error for which
// IsAbort reports true.
type Backend interface {
	Complete(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
}

// IsAbort reports whether err represents caller-initiated cancellation rather
// than a genuine failure.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
