// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package session tracks which live connections are authenticated as which
// account. State is in memory and lasts for the life of the process.
package session

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Session is a snapshot of one account's live connections.
type Session struct {
	AccountID   ulid.ULID
	Connections []string
}

// Binder maps connections to accounts.
//
// A connection must be tracked before it can be bound. Unbind forgets the
// connection entirely, so a login that completes after its connection has
// closed cannot bind it again.
type Binder struct {
	mu       sync.RWMutex
	conns    map[string]ulid.ULID            // tracked conn -> account (zero if anonymous)
	accounts map[ulid.ULID]map[string]struct{} // account -> live conns
	logger   *slog.Logger
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithLogger sets the Binder logger.
func WithLogger(logger *slog.Logger) BinderOption {
	return func(b *Binder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBinder creates an empty Binder.
func NewBinder(opts ...BinderOption) *Binder {
	b := &Binder{
		conns:    make(map[string]ulid.ULID),
		accounts: make(map[ulid.ULID]map[string]struct{}),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Track registers an open, unauthenticated connection. Tracking an already
// tracked connection is a no-op.
func (b *Binder) Track(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.conns[connID]; !ok {
		b.conns[connID] = ulid.ULID{}
	}
}

// Bind associates connID with accountID, replacing any previous account.
// It returns false without changing anything when connID is not tracked.
func (b *Binder) Bind(connID string, accountID ulid.ULID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, tracked := b.conns[connID]
	if !tracked {
		b.logger.Debug("bind skipped for closed connection",
			"conn_id", connID,
			"account_id", accountID.String(),
		)
		return false
	}
	if current == accountID {
		return true
	}
	if !isZero(current) {
		b.detach(connID, current)
	}

	b.conns[connID] = accountID
	live, ok := b.accounts[accountID]
	if !ok {
		live = make(map[string]struct{}, 1)
		b.accounts[accountID] = live
	}
	live[connID] = struct{}{}
	return true
}

// Unbind forgets connID and removes it from whichever account held it.
// It returns the account that was bound, if any.
func (b *Binder) Unbind(connID string) (ulid.ULID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	accountID, tracked := b.conns[connID]
	delete(b.conns, connID)
	if !tracked || isZero(accountID) {
		return ulid.ULID{}, false
	}
	b.detach(connID, accountID)
	return accountID, true
}

// AccountFor returns the account bound to connID.
func (b *Binder) AccountFor(connID string) (ulid.ULID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accountID, ok := b.conns[connID]
	if !ok || isZero(accountID) {
		return ulid.ULID{}, false
	}
	return accountID, true
}

// LiveConnections returns the sorted connection IDs bound to accountID.
func (b *Binder) LiveConnections(accountID ulid.ULID) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.accounts[accountID]
	if len(live) == 0 {
		return nil
	}
	out := make([]string, 0, len(live))
	for connID := range live {
		out = append(out, connID)
	}
	slices.Sort(out)
	return out
}

// Sessions returns a snapshot of every account with at least one live
// connection.
func (b *Binder) Sessions() []Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Session, 0, len(b.accounts))
	for accountID, live := range b.accounts {
		conns := make([]string, 0, len(live))
		for connID := range live {
			conns = append(conns, connID)
		}
		slices.Sort(conns)
		out = append(out, Session{AccountID: accountID, Connections: conns})
	}
	return out
}

// Counts returns the number of tracked connections and of authenticated
// accounts.
func (b *Binder) Counts() (connections, accounts int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns), len(b.accounts)
}

// detach removes connID from accountID's live set. Caller holds b.mu.
func (b *Binder) detach(connID string, accountID ulid.ULID) {
	live := b.accounts[accountID]
	delete(live, connID)
	if len(live) == 0 {
		delete(b.accounts, accountID)
	}
}

func isZero(id ulid.ULID) bool {
	return id == ulid.ULID{}
}
