// Command trace-normalize sweeps a JSONL dataset and separates <think>
// reasoning from answer text in every assistant message that still carries
// inline markup. It performs no LLM calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tracewright/tracewright/store"
	"github.com/tracewright/tracewright/trace"
)

type Config struct {
	InPath   string
	OutPath  string
	MaxItems int
	DryRun   bool
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InPath, "in", "", "Path to the input dataset (JSONL, one item per line)")
	fs.StringVar(&cfg.OutPath, "out", "", "Output dataset path (default: normalize -in in place)")
	fs.IntVar(&cfg.MaxItems, "max-items", 0, "Normalize only the first N items (0 = all)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Report what would change without writing")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.InPath = filepath.Clean(cfg.InPath)
	if cfg.OutPath == "" {
		cfg.OutPath = cfg.InPath
	} else {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.InPath == "" || c.InPath == "." {
		return errors.New("missing -in")
	}
	if c.MaxItems < 0 {
		return errors.New("max-items must be >= 0")
	}
	return nil
}

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
	if cfg.MaxItems > 0 && len(items) > cfg.MaxItems {
		items = items[:cfg.MaxItems]
	}

	changed := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if trace.NormalizeItem(it) {
			changed++
		}
	}
	fmt.Fprintf(os.Stderr, "%d of %d item(s) changed\n", changed, len(items))

	if cfg.DryRun {
		return nil
	}
	if cfg.OutPath != cfg.InPath {
		out := store.NewJSONL(cfg.OutPath)
		for _, it := range ds.Items() {
			out.Put(it)
		}
		ds = out
	}
	if err := ds.SaveAll(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved to %s\n", cfg.OutPath)
	return nil
}
