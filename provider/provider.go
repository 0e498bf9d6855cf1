// Package provider knows how to talk to LLM backends: a closed registry of
// supported providers, generation parameters, and a streaming completion
// implementation over the OpenAI-compatible wire protocol (which every
// provider in the registry, including Gemini, exposes).
package provider

import (
	"fmt"
	"sort"
)

// ID identifies a supported provider. The set is closed: configuration
// referring to an unknown ID fails fast instead of being string-matched at
// call sites.
type ID string

const (
	OpenAI     ID = "openai"
	Gemini     ID = "gemini"
	OpenRouter ID = "openrouter"
	DeepSeek   ID = "deepseek"
	Groq       ID = "groq"
	Together   ID = "together"
	Fireworks  ID = "fireworks"
	Mistral    ID = "mistral"
	XAI        ID = "xai"
	Cerebras   ID = "cerebras"
	SambaNova  ID = "sambanova"
	Hyperbolic ID = "hyperbolic"
	Novita     ID = "novita"
	Nebius     ID = "nebius"
	Ollama     ID = "ollama"
)

// Defaults carries per-provider connection defaults. BaseURL points at the
// provider's OpenAI-compatible endpoint.
type Defaults struct {
	BaseURL      string
	KeyEnv       string
	DefaultModel string

	// SupportsJSONMode reports whether the provider honors a structured-output
	// response format. Providers without it get the schema described in the
	// prompt instead.
	SupportsJSONMode bool
}

var registry = map[ID]Defaults{
	OpenAI:     {BaseURL: "https://api.openai.com/v1", KeyEnv: "OPENAI_API_KEY", DefaultModel: "gpt-4o-mini", SupportsJSONMode: true},
	Gemini:     {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", KeyEnv: "GEMINI_API_KEY", DefaultModel: "gemini-2.0-flash", SupportsJSONMode: true},
	OpenRouter: {BaseURL: "https://openrouter.ai/api/v1", KeyEnv: "OPENROUTER_API_KEY", DefaultModel: "", SupportsJSONMode: true},
	DeepSeek:   {BaseURL: "https://api.deepseek.com/v1", KeyEnv: "DEEPSEEK_API_KEY", DefaultModel: "deepseek-chat", SupportsJSONMode: true},
	Groq:       {BaseURL: "https://api.groq.com/openai/v1", KeyEnv: "GROQ_API_KEY", DefaultModel: "", SupportsJSONMode: true},
	Together:   {BaseURL: "https://api.together.xyz/v1", KeyEnv: "TOGETHER_API_KEY", DefaultModel: "", SupportsJSONMode: true},
	Fireworks:  {BaseURL: "https://api.fireworks.ai/inference/v1", KeyEnv: "FIREWORKS_API_KEY", DefaultModel: "", SupportsJSONMode: true},
	Mistral:    {BaseURL: "https://api.mistral.ai/v1", KeyEnv: "MISTRAL_API_KEY", DefaultModel: "mistral-small-latest", SupportsJSONMode: true},
	XAI:        {BaseURL: "https://api.x.ai/v1", KeyEnv: "XAI_API_KEY", DefaultModel: "grok-3-mini", SupportsJSONMode: true},
	Cerebras:   {BaseURL: "https://api.cerebras.ai/v1", KeyEnv: "CEREBRAS_API_KEY", DefaultModel: "", SupportsJSONMode: false},
	SambaNova:  {BaseURL: "https://api.sambanova.ai/v1", KeyEnv: "SAMBANOVA_API_KEY", DefaultModel: "", SupportsJSONMode: false},
	Hyperbolic: {BaseURL: "https://api.hyperbolic.xyz/v1", KeyEnv: "HYPERBOLIC_API_KEY", DefaultModel: "", SupportsJSONMode: false},
	Novita:     {BaseURL: "https://api.novita.ai/v3/openai", KeyEnv: "NOVITA_API_KEY", DefaultModel: "", SupportsJSONMode: false},
	Nebius:     {BaseURL: "https://api.studio.nebius.ai/v1", KeyEnv: "NEBIUS_API_KEY", DefaultModel: "", SupportsJSONMode: true},
	Ollama:     {BaseURL: "http://localhost:11434/v1", KeyEnv: "OLLAMA_API_KEY", DefaultModel: "", SupportsJSONMode: false},
}

// Lookup resolves the defaults for a provider ID.
func Lookup(id ID) (Defaults, error) {
	d, ok := registry[id]
	if !ok {
		return Defaults{}, fmt.Errorf("Lookup: unknown provider %q", id)
	}
	return d, nil
}

// All returns the registered provider IDs in stable order.
func All() []ID {
	out := make([]ID, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
