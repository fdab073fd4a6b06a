// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package protocol implements the connection-scoped authentication protocol.
//
// Each connection moves from Anonymous to Authenticated on a successful
// login and to Closed when the client disconnects. Inbound events are
// login, register and checkUsernameExists; every reply goes only to the
// connection that sent the request.
package protocol
