// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store serializes read-modify-write cycles on one manifest file.
//
// Within a process the cycle is guarded by a mutex; across processes by an
// advisory lock on a sibling ".lock" file. The manifest is re-read on every
// cycle, never cached, because another process may have changed it.
type Store struct {
	file        string
	defaultName string

	mu sync.Mutex // serializes Mutate within the process
}

// NewStore returns a Store for the manifest at file. defaultName is used
// when the file does not exist yet.
func NewStore(file, defaultName string) *Store {
	return &Store{file: file, defaultName: defaultName}
}

// Path returns the manifest path.
func (s *Store) Path() string { return s.file }

// Get loads the current manifest.
func (s *Store) Get() (*Manifest, error) {
	return Load(s.file, s.defaultName)
}

// Mutate loads the manifest, applies f and saves the result. Nothing is
// written when f returns an error.
func (s *Store) Mutate(f func(*Manifest) error) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return nil, fmt.Errorf("lock manifest: %w", err)
	}
	defer unlock()

	m, err := Load(s.file, s.defaultName)
	if err != nil {
		return nil, err
	}
	if err := f(m); err != nil {
		return nil, fmt.Errorf("failed to mutate manifest: %w", err)
	}
	if err := Save(m, s.file); err != nil {
		return nil, err
	}
	return m, nil
}

// AddDependency records key in the manifest.
func (s *Store) AddDependency(key string) (*Manifest, error) {
	return s.Mutate(func(m *Manifest) error {
		return m.AddDependency(key)
	})
}

func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.file+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unlockFile(f)
		f.Close()
	}, nil
}
