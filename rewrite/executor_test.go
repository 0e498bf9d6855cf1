package rewrite

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tracewright/tracewright/provider"
	"github.com/tracewright/tracewright/trace"
)

func newTestExecutor(t *testing.T, backend provider.Backend, mutate func(*Config)) *Executor {
	t.Helper()
	o, _, _ := newTestOrchestrator(t, backend, mutate)
	e, err := NewExecutor(o)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return e
}

func TestRewrite_RegularModeSingleCall(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []fakeCall{
		{chunks: []string{`{"answer": "regular result"}`}},
	}}
	e := newTestExecutor(t, backend, nil)

	it := &trace.Item{ID: "it-1", Query: "q"}
	key := OpKey{ItemID: it.ID, MessageIndex: ItemLevel, Target: TargetAnswer}

	h, err := e.Rewrite(context.Background(), key, OpRequest{Item: it})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	waitDone(t, h)

	if backend.callCount() != 1 {
		t.Fatalf("calls=%d, want 1", backend.callCount())
	}
	if it.Answer != "regular result" {
		t.Fatalf("answer=%q", it.Answer)
	}
}

func TestRewrite_DeepModeRunsPhasePipeline(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []fakeCall{
		{chunks: []string{`{"focus": "number theory", "constraints": ["keep the proof short"], "outline": ["setup", "induction"]}`}},
		{chunks: []string{`{"notes": ["Fermat's little theorem"]}`}},
		{chunks: []string{`{"steps": ["apply the theorem"], "insight": "the exponent cycles"}`}},
		{chunks: []string{`{"answer": "deep result"}`}},
	}}
	e := newTestExecutor(t, backend, func(c *Config) {
		c.Mode = ModeDeep
		c.DeepPhases = map[Phase]PhaseConfig{
			PhaseMeta: {Model: "planner-model"},
		}
	})

	it := &trace.Item{ID: "it-1", Query: "q"}
	key := OpKey{ItemID: it.ID, MessageIndex: ItemLevel, Target: TargetAnswer}

	h, err := e.Rewrite(context.Background(), key, OpRequest{Item: it})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	waitDone(t, h)

	if h.State() != StateCompleted {
		t.Fatalf("state=%v err=%v", h.State(), h.Err())
	}
	if backend.callCount() != 4 {
		t.Fatalf("calls=%d, want meta+retrieval+derivation+writer", backend.callCount())
	}
	if backend.call(0).Model != "planner-model" {
		t.Fatalf("meta model=%q", backend.call(0).Model)
	}
	// Each phase sees the prior artifacts.
	if !strings.Contains(backend.call(1).Prompt, "number theory") {
		t.Fatalf("retrieval prompt lacks plan:\n%s", backend.call(1).Prompt)
	}
	if !strings.Contains(backend.call(2).Prompt, "Fermat's little theorem") {
		t.Fatalf("derivation prompt lacks notes:\n%s", backend.call(2).Prompt)
	}
	final := backend.call(3).Prompt
	for _, want := range []string{"PLAN", "DERIVATION", "apply the theorem", "the exponent cycles"} {
		if !strings.Contains(final, want) {
			t.Fatalf("writer prompt lacks %q:\n%s", want, final)
		}
	}
	if it.Answer != "deep result" {
		t.Fatalf("answer=%q", it.Answer)
	}
}

func TestRewrite_DeepModePhaseFailureFailsOperation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []fakeCall{
		{err: errors.New("meta upstream down")},
	}}
	e := newTestExecutor(t, backend, func(c *Config) { c.Mode = ModeDeep })

	it := &trace.Item{ID: "it-1", Answer: "old"}
	key := OpKey{ItemID: it.ID, MessageIndex: ItemLevel, Target: TargetAnswer}

	h, err := e.Rewrite(context.Background(), key, OpRequest{Item: it})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	waitDone(t, h)

	if h.State() != StateFailed {
		t.Fatalf("state=%v", h.State())
	}
	if it.Answer != "old" {
		t.Fatalf("failed deep op merged: %q", it.Answer)
	}
}

func TestRewrite_DeepModeCancelAbortsPhase(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	backend := &fakeBackend{script: []fakeCall{
		{block: true, started: started},
	}}
	e := newTestExecutor(t, backend, func(c *Config) { c.Mode = ModeDeep })

	it := &trace.Item{ID: "it-1", Answer: "old"}
	key := OpKey{ItemID: it.ID, MessageIndex: ItemLevel, Target: TargetAnswer}

	h, err := e.Rewrite(context.Background(), key, OpRequest{Item: it})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	<-started
	if !e.orch.Cancel(key) {
		t.Fatalf("Cancel found no operation")
	}
	waitDone(t, h)

	if h.State() != StateCancelled {
		t.Fatalf("state=%v", h.State())
	}
	if backend.callCount() != 1 {
		t.Fatalf("calls=%d, later phases ran after cancel", backend.callCount())
	}
	if it.Answer != "old" {
		t.Fatalf("cancelled deep op merged: %q", it.Answer)
	}
}

func TestDecodeModelJSON_WrappedObject(t *testing.T) {
	t.Parallel()

	var out metaPlan
	if err := decodeModelJSON("here is the plan:\n{\"focus\": \"f\"}\nthanks", &out); err != nil {
		t.Fatalf("decodeModelJSON: %v", err)
	}
	if out.Focus != "f" {
		t.Fatalf("focus=%q", out.Focus)
	}
}

func TestDecodeModelJSON_TruncatedObject(t *testing.T) {
	t.Parallel()

	var m map[string]any
	if err := decodeModelJSON(`{"a": 1`, &m); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v, want unexpected EOF", err)
	}
}

func TestDecodeModelJSON_NoObject(t *testing.T) {
	t.Parallel()

	var m map[string]any
	if err := decodeModelJSON("no json here", &m); err == nil {
		t.Fatalf("expected error")
	}
	if err := decodeModelJSON("", &m); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("empty input should be EOF")
	}
}
