// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/parlor/parlor/internal/account"
)

type emitted struct {
	ConnID  string
	Event   string
	Payload any
}

// recorder is an Emitter that keeps every emitted event.
type recorder struct {
	mu     sync.Mutex
	events []emitted
	err    error
	// panicAfter makes the next EmitTo panic once the event is recorded.
	panicAfter bool
}

func (r *recorder) EmitTo(connID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, emitted{ConnID: connID, Event: event, Payload: payload})
	if r.panicAfter {
		r.panicAfter = false
		panic("emitter failed after write")
	}
	return nil
}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *recorder) last() emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return emitted{}
	}
	return r.events[len(r.events)-1]
}

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Login(ctx context.Context, username, password string) (*account.Account, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Register(ctx context.Context, c account.Candidate) (*account.Account, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *mockAccounts) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
