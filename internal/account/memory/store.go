// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package memory provides an in-process account.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/parlor/parlor/internal/account"
)

// Store keeps accounts in a map guarded by a mutex. The lock makes
// InsertIfUsernameAbsent atomic within one process only, so this Store is
// unsuitable when several server processes must share accounts.
type Store struct {
	mu         sync.RWMutex
	byUsername map[string]*account.Account
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byUsername: make(map[string]*account.Account)}
}

// FindByUsername returns a copy of the stored account.
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "find by username").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byUsername[username]
	if !ok {
		return nil, oops.With("username", username).Wrap(account.ErrNotFound)
	}
	return copyAccount(acct), nil
}

// InsertIfUsernameAbsent stores the account under a fresh ID unless the
// username is already present.
func (s *Store) InsertIfUsernameAbsent(ctx context.Context, acct *account.Account) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "insert account").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[acct.Username]; exists {
		return nil, oops.With("username", acct.Username).Wrap(account.ErrUsernameTaken)
	}

	stored := copyAccount(acct)
	stored.ID = ulid.Make()
	stored.CreatedAt = time.Now().UTC()
	if stored.Conversations == nil {
		stored.Conversations = []string{}
	}
	s.byUsername[stored.Username] = stored

	return copyAccount(stored), nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUsername)
}

func copyAccount(a *account.Account) *account.Account {
	c := *a
	c.Conversations = make([]string, len(a.Conversations))
	copy(c.Conversations, a.Conversations)
	return &c
}

// Compile-time interface check.
var _ account.Store = (*Store)(nil)
