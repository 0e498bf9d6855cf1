// Package store persists trace datasets and tool settings: a JSONL file store
// for the dataset itself, a JSON file store for settings, and a Postgres
// variant for shared deployments.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tracewright/tracewright/trace"
)

// maxLineBytes bounds a single JSONL record. Reasoning traces run long; the
// default scanner limit of 64 KiB is far too small.
const maxLineBytes = 64 * 1024 * 1024

// JSONLStore holds a dataset loaded from a JSONL file and writes it back
// atomically. Items missing an ID are assigned one at load time so every item
// is addressable by rewrite operations.
type JSONLStore struct {
	path string

	mu    sync.Mutex
	items []*trace.Item
	index map[string]int
}

// NewJSONL returns an empty store bound to path without reading it. Saving
// overwrites whatever is there.
func NewJSONL(path string) *JSONLStore {
	return &JSONLStore{path: path, index: make(map[string]int)}
}

// OpenJSONL loads the dataset at path. A missing file yields an empty store
// so a fresh dataset can be built up and saved.
func OpenJSONL(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, errors.New("OpenJSONL: path is empty")
	}
	s := &JSONLStore{path: path, index: make(map[string]int)}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("OpenJSONL: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		it := &trace.Item{}
		if err := json.Unmarshal(raw, it); err != nil {
			return nil, fmt.Errorf("OpenJSONL: line %d: %w", line, err)
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
			it.HasUnsavedChanges = true
		}
		if _, dup := s.index[it.ID]; dup {
			return nil, fmt.Errorf("OpenJSONL: line %d: duplicate item id %q", line, it.ID)
		}
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("OpenJSONL: scan: %w", err)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *JSONLStore) Path() string { return s.path }

// Len returns the number of items.
func (s *JSONLStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns the loaded items in file order. Callers share the underlying
// pointers with the store; mutations become durable on the next save.
func (s *JSONLStore) Items() []*trace.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*trace.Item, len(s.items))
	copy(out, s.items)
	return out
}

// Get returns the item with the given ID.
func (s *JSONLStore) Get(id string) (*trace.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.items[i], true
}

// Put inserts or replaces an item by ID, assigning one if absent.
func (s *JSONLStore) Put(it *trace.Item) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[it.ID]; ok {
		s.items[i] = it
		return
	}
	s.index[it.ID] = len(s.items)
	s.items = append(s.items, it)
}

// SaveItem makes the item durable. The whole file is rewritten; JSONL has no
// in-place record update. Implements the orchestrator's persistence
// collaborator.
func (s *JSONLStore) SaveItem(ctx context.Context, it *trace.Item) error {
	if it == nil {
		return errors.New("SaveItem: item is nil")
	}
	s.Put(it)
	if err := s.SaveAll(ctx); err != nil {
		return fmt.Errorf("SaveItem: %w", err)
	}
	return nil
}

// SaveAll writes every item back to the backing file atomically and clears
// the dirty flags.
func (s *JSONLStore) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf []byte
	for i, it := range s.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("SaveAll: marshal item %d (%s): %w", i, it.ID, err)
		}
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}
	if err := writeFileAtomicSameDir(s.path, buf, 0o644); err != nil {
		return fmt.Errorf("SaveAll: %w", err)
	}
	for _, it := range s.items {
		it.HasUnsavedChanges = false
	}
	return nil
}

// writeFileAtomicSameDir writes data to a temp file in the target directory
// and renames it over path, so readers never observe a partial file.
func writeFileAtomicSameDir(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_trace_*.jsonl")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
