package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIBackend streams chat completions from any provider in the registry
// through the OpenAI-compatible protocol. Providers that emit a separate
// reasoning_content delta (DeepSeek-style) have their reasoning re-wrapped in
// <think> tags inside the accumulated text, so downstream separation goes
// through one code path regardless of how the backend surfaced reasoning.
type OpenAIBackend struct {
	// ClientOptions are appended to every request, after the key/base-URL
	// options derived from the request itself.
	ClientOptions []option.RequestOption

	// MaxAttempts bounds transient-failure retries. Defaults to 3.
	MaxAttempts int

	retry retryPolicy
}

// NewBackend returns a backend with the default retry policy.
func NewBackend(opts ...option.RequestOption) *OpenAIBackend {
	return &OpenAIBackend{ClientOptions: opts, MaxAttempts: 3, retry: defaultRetryPolicy}
}

// Complete implements Backend. A call is only retried while nothing has
// streamed yet: once the caller observed chunks, a retry would replay text
// into the accumulated buffer.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	req, err := req.Resolve()
	if err != nil {
		return "", fmt.Errorf("Complete: %w", err)
	}

	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	for attempt := 0; ; attempt++ {
		text, streamed, err := b.completeOnce(ctx, req, onChunk)
		if err == nil {
			return text, nil
		}
		if IsAbort(err) || streamed || attempt >= attempts-1 {
			return "", err
		}
		wait, retryable := b.retry.waitFor(err, attempt)
		if !retryable {
			return "", err
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return "", serr
		}
	}
}

func (b *OpenAIBackend) completeOnce(ctx context.Context, req Request, onChunk ChunkFunc) (text string, streamed bool, err error) {
	clientOpts := make([]option.RequestOption, 0, 2+len(b.ClientOptions))
	clientOpts = append(clientOpts, option.WithAPIKey(req.APIKey), option.WithBaseURL(req.BaseURL))
	clientOpts = append(clientOpts, b.ClientOptions...)
	client := openai.NewClient(clientOpts...)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if p := req.Params.Temperature; p != nil {
		params.Temperature = openai.Float(*p)
	}
	if p := req.Params.TopP; p != nil {
		params.TopP = openai.Float(*p)
	}
	if p := req.Params.PresencePenalty; p != nil {
		params.PresencePenalty = openai.Float(*p)
	}
	if p := req.Params.FrequencyPenalty; p != nil {
		params.FrequencyPenalty = openai.Float(*p)
	}
	if req.Params.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.Params.MaxTokens)
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "Output"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	var reqOpts []option.RequestOption
	if p := req.Params.TopK; p != nil {
		// top_k is not part of the OpenAI surface; compatible providers accept
		// it as an extra body field and OpenAI itself ignores it.
		reqOpts = append(reqOpts, option.WithJSONSet("top_k", *p))
	}

	var acc strings.Builder
	inReasoning := false
	emit := func(s string) {
		if s == "" {
			return
		}
		acc.WriteString(s)
		if onChunk != nil {
			onChunk(s, acc.String())
		}
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		// Extra fields carry no schema, so the decoder marks them invalid even
		// when present; Raw() is the documented presence check for them.
		if f, ok := delta.JSON.ExtraFields["reasoning_content"]; ok && f.Raw() != "" {
			var reasoning string
			if json.Unmarshal([]byte(f.Raw()), &reasoning) == nil && reasoning != "" {
				if !inReasoning {
					emit("<think>")
					inReasoning = true
				}
				emit(reasoning)
			}
		}
		if delta.Content != "" {
			if inReasoning {
				emit("</think>")
				inReasoning = false
			}
			emit(delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return "", acc.Len() > 0, ctx.Err()
		}
		return "", acc.Len() > 0, fmt.Errorf("Complete: stream: %w", err)
	}
	if inReasoning {
		// Reasoning-only response: close the synthetic tag so the think
		// parser sees a finished block.
		emit("</think>")
	}
	return acc.String(), acc.Len() > 0, nil
}
