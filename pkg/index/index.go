// Package index remembers which calendar event belongs to which task key.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spf13/afero"
)

// EventIndex maps task keys to calendar event ids. It is safe for
// concurrent use; changes reach disk on Save.
type EventIndex struct {
	fs   afero.Fs
	path string

	mu     sync.RWMutex
	events map[string]string
	dirty  bool
}

type Option func(*EventIndex)

func WithFs(fsys afero.Fs) Option {
	return func(idx *EventIndex) {
		if fsys != nil {
			idx.fs = fsys
		}
	}
}

// New opens the index at path. A missing file is an empty index.
func New(path string, opts ...Option) (*EventIndex, error) {
	idx := &EventIndex{
		fs:     afero.NewOsFs(),
		path:   path,
		events: make(map[string]string),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if err := idx.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return idx, nil
}

func (idx *EventIndex) Path() string { return idx.path }

// Load replaces the in-memory mappings with the file contents.
func (idx *EventIndex) Load() error {
	data, err := afero.ReadFile(idx.fs, idx.path)
	if err != nil {
		return err
	}
	events := make(map[string]string)
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("failed to decode event index %s: %w", idx.path, err)
	}
	idx.mu.Lock()
	idx.events = events
	idx.dirty = false
	idx.mu.Unlock()
	return nil
}

// Save writes the index if it changed since the last Load or Save.
func (idx *EventIndex) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	data, err := json.MarshalIndent(idx.events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode event index: %w", err)
	}
	if err := idx.fs.MkdirAll(filepath.Dir(idx.path), 0o700); err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := afero.WriteFile(idx.fs, tmp, data, 0o600); err != nil {
		return err
	}
	if err := idx.fs.Rename(tmp, idx.path); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *EventIndex) Get(key string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.events[key]
}

func (idx *EventIndex) Set(key, eventID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.events[key] == eventID {
		return
	}
	idx.events[key] = eventID
	idx.dirty = true
}

func (idx *EventIndex) Remove(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.events[key]; !ok {
		return
	}
	delete(idx.events, key)
	idx.dirty = true
}

func (idx *EventIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.events)
}

// Keys returns the indexed task keys in sorted order.
func (idx *EventIndex) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.events))
	for k := range idx.events {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
