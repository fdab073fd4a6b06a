// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package auth verifies credentials.
//
// A Hasher turns plaintext passwords into salted, deliberately slow hashes
// and compares candidates against them in constant time. Service.Login uses
// a Hasher and an account lookup to authenticate, reporting unknown usernames
// and wrong passwords with the same AUTH_INVALID_CREDENTIALS error.
package auth
