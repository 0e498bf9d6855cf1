package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tracewright/tracewright/rewrite"
)

// FileSettingsStore persists the rewrite configuration as a JSON file. It
// implements rewrite.SettingsStore.
type FileSettingsStore struct {
	Path string
}

// LoadSettings reads the persisted configuration. A missing file surfaces as
// fs.ErrNotExist so first runs can distinguish "no settings yet" from a
// corrupt file.
func (s FileSettingsStore) LoadSettings(_ context.Context) (rewrite.Config, error) {
	if s.Path == "" {
		return rewrite.Config{}, errors.New("LoadSettings: path is empty")
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return rewrite.Config{}, fmt.Errorf("LoadSettings: %w", err)
	}
	var cfg rewrite.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return rewrite.Config{}, fmt.Errorf("LoadSettings: parse %s: %w", s.Path, err)
	}
	return cfg, nil
}

// SaveSettings writes the configuration back atomically.
func (s FileSettingsStore) SaveSettings(cfg rewrite.Config) error {
	if s.Path == "" {
		return errors.New("SaveSettings: path is empty")
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("SaveSettings: marshal: %w", err)
	}
	b = append(b, '\n')
	if err := writeFileAtomicSameDir(s.Path, b, 0o600); err != nil {
		return fmt.Errorf("SaveSettings: %w", err)
	}
	return nil
}
