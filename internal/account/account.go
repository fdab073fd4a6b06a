// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package account

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Field limits for registration input.
const (
	MaxUsernameLength = 64
	MaxNameLength     = 100
	// MaxPasswordBytes is bcrypt's input limit; longer passwords would be
	// silently truncated by the algorithm.
	MaxPasswordBytes = 72
)

// Account is a durable identity record keyed by a unique, case-sensitive
// username.
type Account struct {
	ID            ulid.ULID
	Username      string
	PasswordHash  string
	FirstName     string
	LastName      string
	Conversations []string
	CreatedAt     time.Time
}

// Candidate is the registration input before hashing.
type Candidate struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Store is the durable username to Account mapping.
type Store interface {
	// FindByUsername returns the account with the exact username, or an
	// error wrapping ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*Account, error)

	// InsertIfUsernameAbsent atomically creates the account, assigning its
	// ID and CreatedAt. It returns an error wrapping ErrUsernameTaken if the
	// username exists, including when a concurrent caller won the race.
	InsertIfUsernameAbsent(ctx context.Context, acct *Account) (*Account, error)
}

// ValidateUsername checks a username against the registration rules.
// Usernames are compared byte-for-byte, so no case folding happens here.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalid).With("field", "username").Errorf("username is required")
	}
	if !utf8.ValidString(username) {
		return oops.Code(CodeInvalid).With("field", "username").Errorf("username must be valid UTF-8")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return oops.Code(CodeInvalid).
			With("field", "username").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if strings.TrimSpace(username) != username {
		return oops.Code(CodeInvalid).With("field", "username").Errorf("username cannot begin or end with whitespace")
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			return oops.Code(CodeInvalid).With("field", "username").Errorf("username cannot contain control characters")
		}
	}
	return nil
}

// Validate checks every field of the candidate and returns the first
// violation as an ACCOUNT_INVALID error.
func (c Candidate) Validate() error {
	if err := ValidateUsername(c.Username); err != nil {
		return err
	}
	if c.Password == "" {
		return oops.Code(CodeInvalid).With("field", "password").Errorf("password is required")
	}
	if len(c.Password) > MaxPasswordBytes {
		return oops.Code(CodeInvalid).
			With("field", "password").
			With("max", MaxPasswordBytes).
			Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}
	if err := validateName("firstName", c.FirstName); err != nil {
		return err
	}
	return validateName("lastName", c.LastName)
}

func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return oops.Code(CodeInvalid).With("field", field).Errorf("%s is required", field)
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		return oops.Code(CodeInvalid).
			With("field", field).
			With("max", MaxNameLength).
			Errorf("%s must be at most %d characters", field, MaxNameLength)
	}
	return nil
}
