// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package accounts keeps the registry's publisher accounts in a single JSON
// file keyed by username. Passwords are stored as bcrypt hashes.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/yeetrun/mpkg/pkg/fileutil"
	"golang.org/x/crypto/bcrypt"
	"tailscale.com/util/mak"
)

var (
	// ErrConflict is returned when creating a username that is taken.
	ErrConflict = errors.New("username already exists")
	// ErrInvalid is returned for an unusable username or password.
	ErrInvalid = errors.New("invalid username or password")
	// ErrUnauthorized is returned when credentials do not match.
	ErrUnauthorized = errors.New("invalid credentials")
)

const maxUsernameLen = 64

// User is one stored account.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// Store is a file-backed account registry. It is safe for concurrent use.
type Store struct {
	path string
	cost int

	mu    sync.Mutex
	users map[string]User
}

// Option configures a Store.
type Option func(*Store)

// WithCost sets the bcrypt cost used for new accounts.
func WithCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// Open loads the accounts at path. A missing file is an empty registry.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(s)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	if err := json.Unmarshal(b, &s.users); err != nil {
		return nil, fmt.Errorf("decode accounts %s: %w", path, err)
	}
	return s, nil
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Create adds a new account and persists the registry.
func (s *Store) Create(username, password string) error {
	username = normalize(username)
	if !validUsername(username) || password == "" || len(password) > 72 {
		return ErrInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrConflict
	}
	mak.Set(&s.users, username, User{Username: username, PasswordHash: string(hash)})
	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

// Authenticate returns nil when password matches the stored hash.
func (s *Store) Authenticate(username, password string) error {
	s.mu.Lock()
	u, ok := s.users[normalize(username)]
	s.mu.Unlock()
	if !ok {
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := fileutil.WriteFile(s.path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write accounts: %w", err)
	}
	return nil
}

// normalize is applied to usernames both when stored and when looked up.
func normalize(name string) string {
	return strings.TrimSpace(name)
}

func validUsername(name string) bool {
	if name == "" || len(name) > maxUsernameLen {
		return false
	}
	for _, r := range name {
		if r > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}
