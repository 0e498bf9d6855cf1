package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func chunkJSON(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, content)
}

func reasoningChunkJSON(reasoning string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"reasoning_content":%q},"finish_reason":null}]}`, reasoning)
}

func serveSSE(t *testing.T, w http.ResponseWriter, events []string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer is not a flusher")
	}
	for _, ev := range events {
		fmt.Fprintf(w, "data: %s\n\n", ev)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func testRequest(baseURL string) Request {
	return Request{
		Provider: OpenAI,
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Prompt:   "hello",
	}
}

func TestComplete_StreamsChunksAndAccumulates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveSSE(t, w, []string{chunkJSON("Hel"), chunkJSON("lo "), chunkJSON("world")})
	}))
	defer srv.Close()

	var deltas []string
	var lastAccumulated string
	backend := NewBackend()
	final, err := backend.Complete(context.Background(), testRequest(srv.URL), func(delta, accumulated string) {
		deltas = append(deltas, delta)
		lastAccumulated = accumulated
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if final != "Hello world" {
		t.Fatalf("final=%q, want %q", final, "Hello world")
	}
	if lastAccumulated != "Hello world" {
		t.Fatalf("accumulated=%q, want %q", lastAccumulated, "Hello world")
	}
	if len(deltas) != 3 {
		t.Fatalf("deltas=%v, want 3 entries", deltas)
	}
}

func TestComplete_WrapsReasoningDeltasInThinkTags(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveSSE(t, w, []string{
			reasoningChunkJSON("step one. "),
			reasoningChunkJSON("step two."),
			chunkJSON("The answer."),
		})
	}))
	defer srv.Close()

	backend := NewBackend()
	final, err := backend.Complete(context.Background(), testRequest(srv.URL), nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "<think>step one. step two.</think>The answer."
	if final != want {
		t.Fatalf("final=%q, want %q", final, want)
	}
}

func TestComplete_ReasoningOnlyResponseClosesTag(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveSSE(t, w, []string{reasoningChunkJSON("only thinking")})
	}))
	defer srv.Close()

	backend := NewBackend()
	final, err := backend.Complete(context.Background(), testRequest(srv.URL), nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if final != "<think>only thinking</think>" {
		t.Fatalf("final=%q, want closed think block", final)
	}
}

func TestComplete_AbortMidStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("partial"))
		flusher.Flush()
		<-r.Context().Done() // hold the stream open until the client gives up
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	backend := NewBackend()
	_, err := backend.Complete(ctx, testRequest(srv.URL), func(delta, accumulated string) {
		cancel()
	})
	if err == nil {
		t.Fatal("expected an abort error")
	}
	if !IsAbort(err) {
		t.Fatalf("IsAbort(%v)=false, want true", err)
	}
}

func TestComplete_RetriesServerErrorBeforeStreaming(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "internal server error"}}`, http.StatusInternalServerError)
			return
		}
		serveSSE(t, w, []string{chunkJSON("recovered")})
	}))
	defer srv.Close()

	backend := NewBackend()
	backend.retry = retryPolicy{
		RateLimitWaits:   []time.Duration{time.Millisecond},
		ServerErrorWaits: []time.Duration{time.Millisecond},
	}
	final, err := backend.Complete(context.Background(), testRequest(srv.URL), nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if final != "recovered" {
		t.Fatalf("final=%q, want %q", final, "recovered")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls=%d, want 2", got)
	}
}

func TestComplete_DoesNotRetryAfterPartialStream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", chunkJSON("partial"))
		flusher.Flush()
		// Drop the connection mid-stream without a [DONE] terminator.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer srv.Close()

	backend := NewBackend()
	backend.retry = retryPolicy{
		RateLimitWaits:   []time.Duration{time.Millisecond},
		ServerErrorWaits: []time.Duration{time.Millisecond},
	}
	_, err := backend.Complete(context.Background(), testRequest(srv.URL), nil)
	if err == nil {
		// Some SSE readers treat EOF after a full event as a clean end; only a
		// second call would prove a retry happened, and there must be none.
		if got := calls.Load(); got != 1 {
			t.Fatalf("calls=%d, want 1", got)
		}
		return
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d, want exactly 1 (no retry after chunks were delivered)", got)
	}
}

func TestRequestResolve(t *testing.T) {
	t.Parallel()

	if _, err := (Request{Provider: "nope", Model: "m", APIKey: "k", Prompt: "p"}).Resolve(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := (Request{Provider: OpenRouter, APIKey: "k", Prompt: "p"}).Resolve(); err == nil {
		t.Fatal("expected error when neither request nor registry supplies a model")
	}
	if _, err := (Request{Provider: OpenAI, Model: "m", APIKey: "k"}).Resolve(); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	r, err := (Request{Provider: DeepSeek, APIKey: "k", Prompt: "p"}).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Model != "deepseek-chat" {
		t.Fatalf("model=%q, want registry default", r.Model)
	}
	if r.BaseURL == "" {
		t.Fatal("base URL not filled from registry")
	}
}

func TestRequestResolve_DropsSchemaWithoutJSONMode(t *testing.T) {
	t.Parallel()

	r, err := (Request{
		Provider: Ollama,
		Model:    "llama3",
		Prompt:   "p",
		Schema:   map[string]any{"type": "object"},
	}).Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Schema != nil {
		t.Fatal("schema kept for a provider without JSON mode")
	}
}

func TestLookupUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := Lookup("unheard-of"); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(fmt.Sprint(All()), string(Gemini)) {
		t.Fatal("registry missing gemini")
	}
}
