package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tracewright/tracewright/provider"
)

// Executor is the entry point callers use to request a rewrite. It dispatches
// on the configured mode: regular hands the request straight to the
// orchestrator, deep first runs the planning phases and injects their
// artifacts into the final prompt. Either way the orchestrator owns the
// operation lifecycle, so deep rewrites cancel and merge exactly like regular
// ones.
type Executor struct {
	orch *Orchestrator
}

func NewExecutor(orch *Orchestrator) (*Executor, error) {
	if orch == nil {
		return nil, fmt.Errorf("NewExecutor: orchestrator is nil")
	}
	return &Executor{orch: orch}, nil
}

// Rewrite starts a rewrite for key according to the current mode and returns
// its handle.
func (e *Executor) Rewrite(ctx context.Context, key OpKey, req OpRequest) (*Handle, error) {
	cfg := e.orch.settings.Current()
	switch cfg.Mode {
	case ModeDeep:
		return e.deepRewrite(ctx, key, req)
	default:
		return e.orch.Start(ctx, key, req)
	}
}

// deepRewrite runs meta, retrieval, and derivation inside the operation's
// BuildPrompt hook, so cancelling the operation aborts whichever phase is in
// flight. The writer/rewriter phase is the operation's own streaming call.
func (e *Executor) deepRewrite(ctx context.Context, key OpKey, req OpRequest) (*Handle, error) {
	if req.Item == nil {
		return nil, fmt.Errorf("deepRewrite: item is nil")
	}
	item := req.Item

	writerPhase := PhaseWriter
	if item.OriginalReasoning != "" || item.OriginalAnswer != "" {
		writerPhase = PhaseRewriter
	}

	base := req
	base.BuildPrompt = func(ctx context.Context, cfg Config) (string, error) {
		selected := req.Selected
		if len(selected) == 0 {
			selected = defaultSelection(key.Target)
		}
		schema := req.Schema
		if schema == nil {
			schema = defaultSchema(key.Target)
		}
		sample := buildContextPrompt(item, key, selected, schema)

		plan, err := runPhase[metaPlan](ctx, e.orch.backend, cfg, PhaseMeta, metaPhasePrompt, sample, "MetaPlan")
		if err != nil {
			return "", fmt.Errorf("meta phase: %w", err)
		}
		planText := formatPlan(plan)

		notes, err := runPhase[retrievalNotes](ctx, e.orch.backend, cfg, PhaseRetrieval,
			retrievalPhasePrompt, sample+"\nPLAN\n"+planText, "RetrievalNotes")
		if err != nil {
			return "", fmt.Errorf("retrieval phase: %w", err)
		}

		var notesText strings.Builder
		writeList(&notesText, "notes", notes.Notes)

		derived, err := runPhase[derivationResult](ctx, e.orch.backend, cfg, PhaseDerivation,
			derivationPhasePrompt, sample+"\nPLAN\n"+planText+"\n"+notesText.String(), "DerivationResult")
		if err != nil {
			return "", fmt.Errorf("derivation phase: %w", err)
		}

		var b strings.Builder
		b.WriteString(sample)
		b.WriteString("\nPLAN\n")
		b.WriteString(planText)
		b.WriteString("\n")
		b.WriteString(notesText.String())
		b.WriteString("\nDERIVATION\n")
		writeList(&b, "steps", derived.Steps)
		writeField(&b, "insight", derived.Insight)
		b.WriteString("\nGround the rewritten fields in the derivation above.\n")
		return b.String(), nil
	}

	if base.Override == nil {
		cfg := e.orch.settings.Current()
		pc := cfg.phaseRequest(writerPhase)
		base.Override = &pc
	}
	return e.orch.Start(ctx, key, base)
}

// runPhase executes one non-streaming planning call with a structured-output
// schema derived from the phase's result type.
func runPhase[T any](ctx context.Context, backend provider.Backend, cfg Config, ph Phase, system, prompt, schemaName string) (T, error) {
	var out T
	schema, err := provider.ResponseSchema[T]()
	if err != nil {
		return out, err
	}
	call := cfg.phaseRequest(ph)
	raw, err := backend.Complete(ctx, provider.Request{
		Provider:   call.Provider,
		Model:      call.Model,
		APIKey:     call.APIKey,
		BaseURL:    call.BaseURL,
		System:     system,
		Prompt:     prompt,
		Params:     call.Params,
		SchemaName: schemaName,
		Schema:     schema,
	}, nil)
	if err != nil {
		return out, err
	}
	if err := decodeModelJSON(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// decodeModelJSON unmarshals model output that may wrap the JSON object in
// prose or fences. A seen-but-unclosed object is reported as truncation.
func decodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start != -1 && end == -1 {
		return io.ErrUnexpectedEOF
	}
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON object (len=%d): %w", len(sub), err)
	}
	return nil
}
