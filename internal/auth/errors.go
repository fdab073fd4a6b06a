// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package auth

// Error codes produced by this package.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeHashComparison     = "AUTH_HASH_COMPARISON"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodeHashFailed         = "AUTH_HASH_FAILED"
	CodeLoginFailed        = "AUTH_LOGIN_FAILED"
	CodeUnknownAlgorithm   = "AUTH_UNKNOWN_ALGORITHM"
	CodeInvalidCost        = "AUTH_INVALID_COST"
)
