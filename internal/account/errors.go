// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package account

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes returned by the Registry and Store implementations.
const (
	CodeInvalid          = "ACCOUNT_INVALID"
	CodeUsernameTaken    = "ACCOUNT_USERNAME_TAKEN"
	CodeNotFound         = "ACCOUNT_NOT_FOUND"
	CodeStoreUnavailable = "ACCOUNT_STORE_UNAVAILABLE"
	CodeHashFailed       = "ACCOUNT_HASH_FAILED"
)

// ErrNotFound is returned when no account has the requested username.
var ErrNotFound = errors.New("account not found")

// ErrUsernameTaken is returned by a Store when an insert collides with an
// existing username.
var ErrUsernameTaken = errors.New("username already exists")

// IsCode reports whether err is an oops error carrying code.
func IsCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
