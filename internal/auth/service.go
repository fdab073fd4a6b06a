// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/parlor/parlor/internal/account"
)

// AccountFinder looks accounts up by username.
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*account.Account, error)
}

// Service authenticates accounts.
type Service struct {
	accounts AccountFinder
	hasher   Hasher
	logger   *slog.Logger

	// dummyHash is verified when the username is unknown so that both
	// failure paths pay for one hash comparison at the configured cost.
	dummyHash string
}

// NewService creates a Service with a no-op logger.
func NewService(accounts AccountFinder, hasher Hasher) (*Service, error) {
	return NewServiceWithLogger(accounts, hasher, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a Service that logs failed attempts to logger.
func NewServiceWithLogger(accounts AccountFinder, hasher Hasher, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account finder is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Code(CodeHashFailed).With("operation", "generate dummy secret").Wrap(err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(secret))
	if err != nil {
		return nil, oops.With("operation", "compute dummy hash").Wrap(err)
	}

	return &Service{
		accounts:  accounts,
		hasher:    hasher,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Login authenticates username and password and returns the account.
//
// Unknown usernames and wrong passwords both return
// AUTH_INVALID_CREDENTIALS. The distinction is only logged.
func (s *Service) Login(ctx context.Context, username, password string) (*account.Account, error) {
	acct, lookupErr := s.accounts.FindByUsername(ctx, username)

	targetHash := s.dummyHash
	exists := false
	switch {
	case lookupErr == nil:
		targetHash = acct.PasswordHash
		exists = true
	case errors.Is(lookupErr, account.ErrNotFound):
	default:
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "find account").
			With("username", username).
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "verify password").
			With("username", username).
			Wrap(verifyErr)
	}

	if !exists {
		s.logger.InfoContext(ctx, "login rejected",
			"event", "login_failed",
			"reason", "unknown_username",
			"username", username,
		)
		return nil, invalidCredentials()
	}
	if !valid {
		s.logger.InfoContext(ctx, "login rejected",
			"event", "login_failed",
			"reason", "wrong_password",
			"username", username,
			"account_id", acct.ID.String(),
		)
		return nil, invalidCredentials()
	}

	return acct, nil
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}
