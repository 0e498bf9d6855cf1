package rewrite

import (
	"context"
	"fmt"
	"sync"

	"github.com/tracewright/tracewright/provider"
)

// Mode selects the generation pipeline shape.
type Mode string

const (
	// ModeRegular satisfies a rewrite with a single LLM call.
	ModeRegular Mode = "regular"
	// ModeDeep delegates to the multi-phase pipeline (meta, retrieval,
	// derivation, then writer/rewriter).
	ModeDeep Mode = "deep"
)

// Phase names one stage of the deep pipeline.
type Phase string

const (
	PhaseMeta       Phase = "meta"
	PhaseRetrieval  Phase = "retrieval"
	PhaseDerivation Phase = "derivation"
	PhaseWriter     Phase = "writer"
	PhaseRewriter   Phase = "rewriter"
)

// PhaseConfig is the provider/model binding for one deep-pipeline phase, or a
// per-operation override of the main binding. Empty fields inherit from the
// main Config.
type PhaseConfig struct {
	Provider provider.ID
	Model    string
	APIKey   string
	BaseURL  string
	Params   provider.GenParams
}

// Config is the hydrated settings snapshot the orchestrator reads.
type Config struct {
	Provider provider.ID
	Model    string
	APIKey   string
	BaseURL  string
	Params   provider.GenParams

	Mode Mode

	// SplitBothRequests makes "both" rewrites run two sequential calls (one
	// for reasoning, one for answer) instead of a single interleaved call.
	SplitBothRequests bool

	// AutoSave asks the orchestrator to fire the persistence collaborator
	// after every successful merge.
	AutoSave bool

	DeepPhases map[Phase]PhaseConfig
}

// phaseRequest resolves a phase binding against the main config.
func (c Config) phaseRequest(ph Phase) PhaseConfig {
	out := PhaseConfig{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
		Params:   c.Params,
	}
	p, ok := c.DeepPhases[ph]
	if !ok {
		return out
	}
	if p.Provider != "" {
		out.Provider = p.Provider
		// A different provider does not inherit the main key or URL.
		out.APIKey = p.APIKey
		out.BaseURL = p.BaseURL
	}
	if p.Model != "" {
		out.Model = p.Model
	}
	if p.APIKey != "" {
		out.APIKey = p.APIKey
	}
	if p.BaseURL != "" {
		out.BaseURL = p.BaseURL
	}
	if p.Params != (provider.GenParams{}) {
		out.Params = p.Params
	}
	return out
}

// SettingsStore hydrates persisted settings. Implementations live outside
// this package and may back it with a file, a database, or any other external
// config source.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (Config, error)
}

// Settings is a two-phase-init settings service: constructed with defaults
// that Current returns immediately, then hydrated once by Load. Ready is
// closed when hydration finishes, for callers that must not race ahead of
// persisted configuration.
type Settings struct {
	mu    sync.RWMutex
	cfg   Config
	ready chan struct{}
	done  bool
}

// NewSettings returns a service serving defaults until Load completes.
func NewSettings(defaults Config) *Settings {
	if defaults.Provider == "" {
		defaults.Provider = provider.OpenAI
	}
	if defaults.Mode == "" {
		defaults.Mode = ModeRegular
	}
	return &Settings{cfg: defaults, ready: make(chan struct{})}
}

// Load hydrates from the store. It may be called once; the service is marked
// ready even when the store fails, so waiters are never stranded. The error
// tells the caller hydration fell back to defaults.
func (s *Settings) Load(ctx context.Context, store SettingsStore) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return fmt.Errorf("Load: settings already loaded")
	}
	s.mu.Unlock()

	cfg, err := store.LoadSettings(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("Load: settings already loaded")
	}
	s.done = true
	if err == nil {
		if cfg.Provider == "" {
			cfg.Provider = s.cfg.Provider
		}
		if cfg.Mode == "" {
			cfg.Mode = s.cfg.Mode
		}
		s.cfg = cfg
	}
	close(s.ready)
	if err != nil {
		return fmt.Errorf("Load: %w", err)
	}
	return nil
}

// Current is the synchronous best-effort accessor: defaults before hydration,
// the hydrated snapshot after.
func (s *Settings) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Ready is closed once hydration has finished (successfully or not).
func (s *Settings) Ready() <-chan struct{} {
	return s.ready
}

// Update applies an in-memory mutation to the current snapshot.
func (s *Settings) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}
