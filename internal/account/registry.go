// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// DefaultStoreTimeout bounds every Store call made by the Registry.
const DefaultStoreTimeout = 5 * time.Second

// PasswordHasher produces the stored form of a plaintext password.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStoreTimeout overrides DefaultStoreTimeout. Non-positive values are ignored.
func WithStoreTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the Registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry creates and looks up accounts.
type Registry struct {
	store   Store
	hasher  PasswordHasher
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates a Registry. Returns an error if a dependency is nil.
func NewRegistry(store Store, hasher PasswordHasher, opts ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, oops.Errorf("account store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	r := &Registry{
		store:   store,
		hasher:  hasher,
		timeout: DefaultStoreTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FindByUsername returns the account with the exact username.
// The error carries ACCOUNT_NOT_FOUND (wrapping ErrNotFound) when no such
// account exists and ACCOUNT_STORE_UNAVAILABLE for any other store failure.
func (r *Registry) FindByUsername(ctx context.Context, username string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acct, err := r.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeNotFound).With("username", username).Wrap(err)
		}
		return nil, storeUnavailable(err, "find by username", username)
	}
	return acct, nil
}

// UsernameAvailable reports whether no account currently holds username.
// The answer is advisory: Register never relies on it.
func (r *Registry) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	return false, err
}

// Register creates a new account from the candidate.
//
// The password is hashed before the store is touched, and the hash is
// computed even when the username turns out to be taken, so response time
// does not reveal whether an account exists. The insert itself is the only
// uniqueness check.
func (r *Registry) Register(ctx context.Context, c Candidate) (*Account, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	hash, err := r.hasher.Hash(c.Password)
	if err != nil {
		return nil, oops.Code(CodeHashFailed).
			With("operation", "hash password").
			With("username", c.Username).
			Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	created, err := r.store.InsertIfUsernameAbsent(ctx, &Account{
		Username:      c.Username,
		PasswordHash:  hash,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Conversations: []string{},
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, oops.Code(CodeUsernameTaken).With("username", c.Username).Wrap(err)
		}
		return nil, storeUnavailable(err, "insert account", c.Username)
	}

	r.logger.Info("account registered",
		"event", "account_registered",
		"account_id", created.ID.String(),
		"username", created.Username,
	)
	return created, nil
}

func storeUnavailable(err error, operation, username string) error {
	b := oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		With("username", username)
	if errors.Is(err, context.DeadlineExceeded) {
		b = b.With("timeout", true)
	}
	return b.Wrap(err)
}
