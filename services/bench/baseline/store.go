// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists baselines by name.
//
// Description:
//
//	Implementations encode baselines with Marshal, so a baseline read back
//	from any store is independent of the one written. Get returns
//	ErrBaselineNotFound for unknown names and ErrInvalidBaseline or
//	ErrIncompatibleFormat for unreadable data.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the baseline stored under name.
	Get(ctx context.Context, name string) (*Baseline, error)

	// Set stores b under b.Name, replacing any previous baseline.
	Set(ctx context.Context, b *Baseline) error

	// List returns all stored names, sorted.
	List(ctx context.Context) ([]string, error)

	// Delete removes a baseline.
	Delete(ctx context.Context, name string) error

	// Close releases the store's resources.
	Close() error
}

// encodeFor validates b and encodes it for storage.
func encodeFor(b *Baseline) ([]byte, error) {
	if b == nil {
		return nil, errors.New("baseline must not be nil")
	}
	if err := ValidateName(b.Name); err != nil {
		return nil, err
	}
	return Marshal(b)
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// MemoryStore keeps encoded baselines in memory. Useful for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, name string) (*Baseline, error) {
	m.mu.RLock()
	data, ok := m.data[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	return Unmarshal(data)
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, b *Baseline) error {
	data, err := encodeFor(b)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[b.Name] = data
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
	}
	delete(m.data, name)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// -----------------------------------------------------------------------------
// File Store
// -----------------------------------------------------------------------------

const fileExt = ".json"

// FileStore keeps one JSON file per baseline in a directory.
//
// Description:
//
//	Baselines are written to {dir}/{name}.json through a temporary file
//	and rename, so readers never observe a partial write.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a file-based store, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating baseline directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory.
func (f *FileStore) Dir() string { return f.dir }

// Get implements Store.
func (f *FileStore) Get(_ context.Context, name string) (*Baseline, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.filePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
		}
		return nil, fmt.Errorf("reading baseline %s: %w", name, err)
	}
	return Unmarshal(data)
}

// Set implements Store.
func (f *FileStore) Set(_ context.Context, b *Baseline) error {
	data, err := encodeFor(b)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.filePath(b.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("writing baseline %s: %w", b.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing baseline %s: %w", b.Name, err)
	}
	return nil
}

// List implements Store.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing baselines: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), fileExt); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filePath(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrBaselineNotFound)
		}
		return fmt.Errorf("deleting baseline %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) filePath(name string) string {
	return filepath.Join(f.dir, name+fileExt)
}
