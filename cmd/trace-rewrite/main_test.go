package main

import (
	"flag"
	"testing"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-in", "data.jsonl"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.OutPath != "data.jsonl" {
		t.Fatalf("out=%q, want in-place default", cfg.OutPath)
	}
	if cfg.Target != "both" || cfg.Mode != "regular" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing in", func(c *Config) { c.InPath = "" }},
		{"bad target", func(c *Config) { c.Target = "everything" }},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative max items", func(c *Config) { c.MaxItems = -1 }},
	}
	for _, tc := range cases {
		cfg := defaultConfig()
		cfg.InPath = "data.jsonl"
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSplitFields(t *testing.T) {
	t.Parallel()

	if got := splitFields(""); got != nil {
		t.Fatalf("empty=%v", got)
	}
	got := splitFields(" reasoning, answer ,,")
	if len(got) != 2 || got[0] != "reasoning" || got[1] != "answer" {
		t.Fatalf("got=%v", got)
	}
}
