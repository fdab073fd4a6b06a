// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package account owns the Account identity record and the Registry that
// creates and looks up accounts against a Store.
//
// # Uniqueness
//
// Username uniqueness is enforced only by the Store's atomic
// InsertIfUsernameAbsent. The Registry never looks a username up before
// inserting it, so the guarantee holds across any number of server processes
// sharing one Store. UsernameAvailable exists for client-side hinting and its
// answer may be stale the moment it returns.
//
// # Store implementations
//
//   - postgres - pgx-backed Store with a unique index on username
//   - memory - in-process Store for development and tests
package account
