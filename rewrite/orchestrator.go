package rewrite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tracewright/tracewright/provider"
	"github.com/tracewright/tracewright/trace"
)

// Persister is the persistence collaborator: the orchestrator signals "please
// persist item X now" and never performs I/O itself.
type Persister interface {
	SaveItem(ctx context.Context, it *trace.Item) error
}

// Notifier is the user-facing notification collaborator.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Confirmer is the yes/no prompt collaborator used before destructive
// operations.
type Confirmer interface {
	Confirm(prompt string) bool
}

type nopNotifier struct{}

func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}

// denyConfirmer declines everything; destructive operations require an
// explicitly injected confirmer.
type denyConfirmer struct{}

func (denyConfirmer) Confirm(string) bool { return false }

// Handle tracks one operation from the caller's side.
type Handle struct {
	ID  string
	Key OpKey

	done chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// Done is closed when the operation reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the terminal error: nil for Completed, the abort cause for
// Cancelled, the failure for Failed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) finish(s State, err error) {
	h.mu.Lock()
	h.state = s
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

type operation struct {
	handle *Handle
	cancel context.CancelFunc
}

// OpRequest describes one rewrite operation.
type OpRequest struct {
	Item *trace.Item

	// Selected narrows which generated fields to trust; empty means the
	// target's default field set.
	Selected []string

	// Schema declares the expected output fields; nil means the target's
	// default schema.
	Schema []trace.FieldSpec

	// Prompt overrides the built-in context prompt. BuildPrompt, when set,
	// wins over both and runs inside the operation (cancellable), which is
	// how the deep pipeline injects its phase artifacts.
	Prompt      string
	BuildPrompt func(ctx context.Context, cfg Config) (string, error)

	// Override rebinds this operation to a different provider/model than the
	// settings snapshot (used for deep writer/rewriter phases).
	Override *PhaseConfig

	// SplitBoth / AutoSave override the settings defaults when non-nil.
	SplitBoth *bool
	AutoSave  *bool
}

// OrchestratorConfig wires the orchestrator's collaborators. Backend and
// Settings are required.
type OrchestratorConfig struct {
	Backend   provider.Backend
	Settings  *Settings
	Bus       *Bus
	Persister Persister
	Notifier  Notifier
	Confirmer Confirmer
}

// Orchestrator owns the lifecycle of streaming rewrite operations: an
// operation-state map keyed by OpKey, with the at-most-one-active-per-key
// invariant enforced by replacing (and cancelling) the prior handle inside a
// single critical section.
type Orchestrator struct {
	backend   provider.Backend
	settings  *Settings
	bus       *Bus
	persister Persister
	notifier  Notifier
	confirmer Confirmer

	mu  sync.Mutex
	ops map[OpKey]*operation
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("NewOrchestrator: backend is nil")
	}
	if cfg.Settings == nil {
		return nil, errors.New("NewOrchestrator: settings is nil")
	}
	o := &Orchestrator{
		backend:   cfg.Backend,
		settings:  cfg.Settings,
		bus:       cfg.Bus,
		persister: cfg.Persister,
		notifier:  cfg.Notifier,
		confirmer: cfg.Confirmer,
		ops:       make(map[OpKey]*operation),
	}
	if o.bus == nil {
		o.bus = NewBus()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.confirmer == nil {
		o.confirmer = denyConfirmer{}
	}
	return o, nil
}

// Bus exposes the event stream UI layers subscribe to.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// IsActive reports whether an operation is currently registered for key.
func (o *Orchestrator) IsActive(key OpKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.ops[key]
	return ok
}

// ActiveCount returns the number of in-flight operations.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops)
}

// Cancel aborts the operation registered for key, if any. The cancelled
// operation leaves the persisted item untouched.
func (o *Orchestrator) Cancel(key OpKey) bool {
	o.mu.Lock()
	op, ok := o.ops[key]
	o.mu.Unlock()
	if ok {
		op.cancel()
	}
	return ok
}

// Start validates preconditions, registers the operation (cancelling any
// prior one on the same key), and launches it. It fails before registration
// when no model is configured, so a configuration error never reaches the
// streaming state.
func (o *Orchestrator) Start(ctx context.Context, key OpKey, req OpRequest) (*Handle, error) {
	if req.Item == nil {
		return nil, errors.New("Start: item is nil")
	}
	if key.ItemID == "" {
		key.ItemID = req.Item.ID
	}
	if key.ItemID != req.Item.ID {
		return nil, fmt.Errorf("Start: key item %q does not match item %q", key.ItemID, req.Item.ID)
	}
	if key.MessageIndex != ItemLevel && (key.MessageIndex < 0 || key.MessageIndex >= len(req.Item.Messages)) {
		return nil, fmt.Errorf("Start: message index %d out of range", key.MessageIndex)
	}

	cfg := o.settings.Current()
	call := resolveCall(cfg, req.Override)
	if err := validateCall(call); err != nil {
		o.notifier.Error(err.Error())
		return nil, fmt.Errorf("Start: %w", err)
	}

	opCtx, cancel := context.WithCancel(ctx)
	h := &Handle{ID: uuid.NewString(), Key: key, done: make(chan struct{}), state: StateStarting}
	op := &operation{handle: h, cancel: cancel}

	// Register and supersede in one critical section so no interleaving can
	// observe two live handles for the same key.
	o.mu.Lock()
	if prev, ok := o.ops[key]; ok {
		prev.cancel()
	}
	o.ops[key] = op
	o.mu.Unlock()

	go o.run(opCtx, cancel, op, key, cfg, call, req)
	return h, nil
}

func resolveCall(cfg Config, override *PhaseConfig) PhaseConfig {
	call := PhaseConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Params:   cfg.Params,
	}
	if override == nil {
		return call
	}
	if override.Provider != "" {
		call.Provider = override.Provider
		call.APIKey = override.APIKey
		call.BaseURL = override.BaseURL
	}
	if override.Model != "" {
		call.Model = override.Model
	}
	if override.APIKey != "" {
		call.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		call.BaseURL = override.BaseURL
	}
	if override.Params != (provider.GenParams{}) {
		call.Params = override.Params
	}
	return call
}

func validateCall(call PhaseConfig) error {
	d, err := provider.Lookup(call.Provider)
	if err != nil {
		return err
	}
	if call.Model == "" && d.DefaultModel == "" {
		return fmt.Errorf("no model configured for provider %q", call.Provider)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, op *operation, key OpKey, cfg Config, call PhaseConfig, req OpRequest) {
	defer cancel()
	h := op.handle
	o.publish(h, StateStarting, liveView{}, nil)

	selected := req.Selected
	if len(selected) == 0 {
		selected = defaultSelection(key.Target)
	}
	schema := req.Schema
	if schema == nil {
		schema = defaultSchema(key.Target)
	}

	prompt := req.Prompt
	if req.BuildPrompt != nil {
		var err error
		prompt, err = req.BuildPrompt(ctx, cfg)
		if err != nil {
			o.finishOp(key, op, err)
			return
		}
	}
	if prompt == "" {
		prompt = buildContextPrompt(req.Item, key, selected, schema)
	}

	split := cfg.SplitBothRequests
	if req.SplitBoth != nil {
		split = *req.SplitBoth
	}

	var generated map[string]string
	var err error
	if key.Target == TargetBoth && split {
		generated, err = o.streamSplitBoth(ctx, h, call, req.Item, key)
	} else {
		generated, err = o.streamSingle(ctx, h, call, key, prompt, schema)
	}
	if err != nil {
		o.finishOp(key, op, err)
		return
	}

	o.applyMerge(ctx, key, cfg, req, selected, schema, generated)
	o.publish(h, StateCompleted, liveView{Reasoning: generated["reasoning"], Answer: answerForEvent(key.Target, generated)}, nil)
	o.notifier.Success(fmt.Sprintf("Rewrote %s", key.Target))
	o.clear(key, op)
	h.finish(StateCompleted, nil)
}

// streamSingle runs one completion and routes every chunk through the
// target's extraction policy for live display.
func (o *Orchestrator) streamSingle(ctx context.Context, h *Handle, call PhaseConfig, key OpKey, prompt string, schema []trace.FieldSpec) (map[string]string, error) {
	final, err := o.complete(ctx, h, call, prompt, schema, func(accumulated string) liveView {
		return targetLive(key.Target, accumulated)
	})
	if err != nil {
		return nil, err
	}
	return targetFinal(key.Target, final), nil
}

// streamSplitBoth runs the "both" rewrite as two sequential independent
// calls: reasoning first, then answer, with the answer call seeing the fresh
// reasoning.
func (o *Orchestrator) streamSplitBoth(ctx context.Context, h *Handle, call PhaseConfig, it *trace.Item, key OpKey) (map[string]string, error) {
	rKey := OpKey{ItemID: key.ItemID, MessageIndex: key.MessageIndex, Target: TargetReasoning}
	rPrompt := buildContextPrompt(it, rKey, defaultSelection(TargetReasoning), defaultSchema(TargetReasoning))
	rFinal, err := o.complete(ctx, h, call, rPrompt, defaultSchema(TargetReasoning), func(acc string) liveView {
		return liveView{Reasoning: targetLive(TargetReasoning, acc).Reasoning}
	})
	if err != nil {
		return nil, err
	}
	reasoning := trace.SanitizeReasoning(targetLive(TargetReasoning, rFinal).Reasoning)

	aKey := OpKey{ItemID: key.ItemID, MessageIndex: key.MessageIndex, Target: TargetAnswer}
	aPrompt := buildContextPrompt(it, aKey, defaultSelection(TargetAnswer), defaultSchema(TargetAnswer))
	if reasoning != "" {
		aPrompt += "\nFRESH REASONING (use it to derive the answer)\n" + reasoning + "\n"
	}
	aFinal, err := o.complete(ctx, h, call, aPrompt, defaultSchema(TargetAnswer), func(acc string) liveView {
		return liveView{Reasoning: reasoning, Answer: targetLive(TargetAnswer, acc).Answer}
	})
	if err != nil {
		return nil, err
	}
	answer := trimmed(targetLive(TargetAnswer, aFinal).Answer)

	return map[string]string{"reasoning": reasoning, "answer": answer}, nil
}

func (o *Orchestrator) complete(ctx context.Context, h *Handle, call PhaseConfig, prompt string, schema []trace.FieldSpec, live func(accumulated string) liveView) (string, error) {
	preq := provider.Request{
		Provider:   call.Provider,
		Model:      call.Model,
		APIKey:     call.APIKey,
		BaseURL:    call.BaseURL,
		System:     rewriteSystemPrompt,
		Prompt:     prompt,
		Params:     call.Params,
		SchemaName: "RewriteOutput",
		Schema:     provider.FieldSchema(schema),
	}
	return o.backend.Complete(ctx, preq, func(delta, accumulated string) {
		h.setState(StateStreaming)
		o.publish(h, StateStreaming, live(accumulated), nil)
	})
}

// applyMerge runs the field-selection merge into the item (or the targeted
// message) and fires the optional auto-save.
func (o *Orchestrator) applyMerge(ctx context.Context, key OpKey, cfg Config, req OpRequest, selected []string, schema []trace.FieldSpec, generated map[string]string) {
	if key.MessageIndex == ItemLevel {
		res := trace.MergeWithExisting(req.Item, generated, selected, schema)
		trace.ApplyFields(req.Item, res.Data)
		if key.Target == TargetReasoning || key.Target == TargetBoth {
			if r := res.Data["reasoning"]; r != "" {
				req.Item.ReasoningContent = trace.SanitizeReasoning(r)
			}
		}
	} else {
		applyMessageFields(req.Item, key, generated)
	}

	autoSave := cfg.AutoSave
	if req.AutoSave != nil {
		autoSave = *req.AutoSave
	}
	if autoSave && o.persister != nil {
		// Best-effort: a failed save is reported but does not fail the
		// rewrite, whose result already lives in the document.
		if err := o.persister.SaveItem(context.WithoutCancel(ctx), req.Item); err != nil {
			o.notifier.Error(fmt.Sprintf("Auto-save failed: %v", err))
		}
	}
}

func applyMessageFields(it *trace.Item, key OpKey, generated map[string]string) {
	m := &it.Messages[key.MessageIndex]
	switch key.Target {
	case TargetQuery, TargetAnswer:
		if v := generated[string(key.Target)]; v != "" {
			m.Content = v
		}
		if key.Target == TargetAnswer {
			if norm, changed := trace.NormalizeMessage(*m); changed {
				*m = norm
			}
		}
	case TargetReasoning:
		if v := generated["reasoning"]; v != "" {
			m.ReasoningContent = trace.SanitizeReasoning(v)
		}
	case TargetBoth:
		if v := generated["answer"]; v != "" {
			m.Content = v
		}
		if v := generated["reasoning"]; v != "" {
			m.ReasoningContent = trace.SanitizeReasoning(v)
		}
	}
	it.HasUnsavedChanges = true
}

// finishOp handles both terminal failure paths. An abort is not a failure: no
// toast, no merge, item untouched.
func (o *Orchestrator) finishOp(key OpKey, op *operation, err error) {
	h := op.handle
	if provider.IsAbort(err) {
		o.publish(h, StateCancelled, liveView{}, err)
		o.clear(key, op)
		h.finish(StateCancelled, err)
		return
	}
	o.notifier.Error("Rewrite failed")
	o.publish(h, StateFailed, liveView{}, err)
	o.clear(key, op)
	h.finish(StateFailed, err)
}

// clear removes the operation from the map unless it has already been
// superseded by a newer one on the same key.
func (o *Orchestrator) clear(key OpKey, op *operation) {
	o.mu.Lock()
	if cur, ok := o.ops[key]; ok && cur == op {
		delete(o.ops, key)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) publish(h *Handle, s State, v liveView, err error) {
	o.bus.Publish(Event{
		OpID:      h.ID,
		Key:       h.Key,
		State:     s,
		Reasoning: v.Reasoning,
		Answer:    v.Answer,
		Err:       err,
	})
}

func answerForEvent(t Target, generated map[string]string) string {
	if t == TargetQuery {
		return generated["query"]
	}
	return generated["answer"]
}

// DeleteMessageAndFollowing removes messages[from:] after explicit user
// confirmation, recomputing the multi-turn flag and dirtying the item. It
// reports whether the deletion happened.
func (o *Orchestrator) DeleteMessageAndFollowing(ctx context.Context, it *trace.Item, from int) (bool, error) {
	if it == nil {
		return false, errors.New("DeleteMessageAndFollowing: item is nil")
	}
	if from < 0 || from >= len(it.Messages) {
		return false, fmt.Errorf("DeleteMessageAndFollowing: index %d out of range", from)
	}
	n := len(it.Messages) - from
	if !o.confirmer.Confirm(fmt.Sprintf("Delete message %d and the %d message(s) from it on?", from, n)) {
		return false, nil
	}
	if err := trace.TruncateMessages(it, from); err != nil {
		return false, err
	}
	if o.settings.Current().AutoSave && o.persister != nil {
		if err := o.persister.SaveItem(ctx, it); err != nil {
			o.notifier.Error(fmt.Sprintf("Auto-save failed: %v", err))
		}
	}
	return true, nil
}
