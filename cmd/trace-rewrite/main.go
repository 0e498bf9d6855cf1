// Command trace-rewrite runs LLM rewrites over a reasoning-trace dataset in
// bulk: it loads a JSONL dataset, regenerates the requested field(s) of each
// item through the configured provider, merges the results, and writes the
// dataset back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/tracewright/tracewright/provider"
	"github.com/tracewright/tracewright/rewrite"
	"github.com/tracewright/tracewright/store"
	"github.com/tracewright/tracewright/trace"
)

type Config struct {
	InPath       string
	OutPath      string
	SettingsPath string
	DatabaseURL  string

	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	Target    string
	Fields    string
	Mode      string
	SplitBoth bool

	Concurrency int
	MaxItems    int
	Progress    bool
}

func defaultConfig() Config {
	return Config{
		Target:      string(rewrite.TargetBoth),
		Mode:        string(rewrite.ModeRegular),
		Concurrency: 4,
		Progress:    true,
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InPath, "in", cfg.InPath, "Path to the input dataset (JSONL, one item per line)")
	fs.StringVar(&cfg.OutPath, "out", "", "Output dataset path (default: rewrite -in in place)")
	fs.StringVar(&cfg.SettingsPath, "settings", "", "Optional settings JSON file (flags override its values)")
	fs.StringVar(&cfg.DatabaseURL, "db", "", "Optional Postgres URL; completed items are also upserted there")
	fs.StringVar(&cfg.Provider, "provider", "", "Provider id (openai, deepseek, openrouter, ...)")
	fs.StringVar(&cfg.Model, "model", "", "Model to use (default: provider default)")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides the provider's env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Base URL override (e.g. a local OpenAI-compatible server)")
	fs.StringVar(&cfg.Target, "target", cfg.Target, "What to rewrite: query, reasoning, answer, or both")
	fs.StringVar(&cfg.Fields, "fields", "", "Comma-separated fields to trust from the output (default: the target's fields)")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Pipeline mode: regular or deep")
	fs.BoolVar(&cfg.SplitBoth, "split-both", false, "Run 'both' rewrites as two sequential calls")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent item rewrites")
	fs.IntVar(&cfg.MaxItems, "max-items", 0, "Rewrite only the first N items (0 = all)")
	fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Print per-item progress to stderr")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.InPath = filepath.Clean(cfg.InPath)
	if cfg.OutPath == "" {
		cfg.OutPath = cfg.InPath
	} else {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	if cfg.SettingsPath != "" {
		cfg.SettingsPath = filepath.Clean(cfg.SettingsPath)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.InPath == "" || c.InPath == "." {
		return errors.New("missing -in")
	}
	switch rewrite.Target(c.Target) {
	case rewrite.TargetQuery, rewrite.TargetReasoning, rewrite.TargetAnswer, rewrite.TargetBoth:
	default:
		return fmt.Errorf("invalid -target %q", c.Target)
	}
	switch rewrite.Mode(c.Mode) {
	case rewrite.ModeRegular, rewrite.ModeDeep:
	default:
		return fmt.Errorf("invalid -mode %q", c.Mode)
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.MaxItems < 0 {
		return errors.New("max-items must be >= 0")
	}
	return nil
}

// stderrNotifier routes orchestrator toasts to stderr.
type stderrNotifier struct{}

func (stderrNotifier) Success(string)   {}
func (stderrNotifier) Error(msg string) { fmt.Fprintln(os.Stderr, "warn: "+msg) }

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	ds, err := store.OpenJSONL(cfg.InPath)
	if err != nil {
		return err
	}
	items := ds.Items()
	if len(items) == 0 {
		return errors.New("dataset is empty")
	}
	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	settings, err := buildSettings(ctx, cfg)
	if err != nil {
		return err
	}

	var persister rewrite.Persister
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		persister = pg
	}

	orch, err := rewrite.NewOrchestrator(rewrite.OrchestratorConfig{
		Backend:   provider.NewBackend(),
		Settings:  settings,
		Persister: persister,
		Notifier:  stderrNotifier{},
	})
	if err != nil {
		return err
	}
	exec, err := rewrite.NewExecutor(orch)
	if err != nil {
		return err
	}

	target := rewrite.Target(cfg.Target)
	selected := splitFields(cfg.Fields)

	var done, failed atomic.Int64
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	for i, it := range items {
		wg.Add(1)
		go func(i int, it *trace.Item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			key := rewrite.OpKey{ItemID: it.ID, MessageIndex: rewrite.ItemLevel, Target: target}
			h, err := exec.Rewrite(ctx, key, rewrite.OpRequest{Item: it, Selected: selected})
			if err != nil {
				failed.Add(1)
				fmt.Fprintf(os.Stderr, "item %d (%s): %v\n", i, it.ID, err)
				return
			}
			<-h.Done()
			switch h.State() {
			case rewrite.StateCompleted:
				n := done.Add(1)
				if cfg.Progress {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s rewritten\n", n, len(items), it.ID)
				}
			case rewrite.StateCancelled:
				// Interrupted; the item is untouched.
			default:
				failed.Add(1)
				fmt.Fprintf(os.Stderr, "item %d (%s): %v\n", i, it.ID, h.Err())
			}
		}(i, it)
	}
	wg.Wait()

	// Save whatever completed, even on interrupt: cancelled items carry no
	// changes, so a partial run is still a consistent dataset.
	if cfg.OutPath != cfg.InPath {
		out := store.NewJSONL(cfg.OutPath)
		for _, it := range ds.Items() {
			out.Put(it)
		}
		ds = out
	}
	if err := ds.SaveAll(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "rewrote %d item(s), %d failed, saved to %s\n", done.Load(), failed.Load(), cfg.OutPath)
	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	if failed.Load() > 0 {
		return fmt.Errorf("%d item(s) failed", failed.Load())
	}
	return nil
}

func buildSettings(ctx context.Context, cfg Config) (*rewrite.Settings, error) {
	defaults := rewrite.Config{
		Provider:          provider.ID(cfg.Provider),
		Model:             cfg.Model,
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Mode:              rewrite.Mode(cfg.Mode),
		SplitBothRequests: cfg.SplitBoth,
	}
	settings := rewrite.NewSettings(defaults)
	if cfg.SettingsPath == "" {
		return settings, nil
	}

	err := settings.Load(ctx, store.FileSettingsStore{Path: cfg.SettingsPath})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	// Explicit flags win over the settings file.
	settings.Update(func(c *rewrite.Config) {
		if cfg.Provider != "" {
			c.Provider = provider.ID(cfg.Provider)
			c.APIKey = cfg.APIKey
			c.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if cfg.APIKey != "" {
			c.APIKey = cfg.APIKey
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		if cfg.Mode != string(rewrite.ModeRegular) {
			c.Mode = rewrite.Mode(cfg.Mode)
		}
		if cfg.SplitBoth {
			c.SplitBothRequests = true
		}
	})
	return settings, nil
}

func splitFields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
