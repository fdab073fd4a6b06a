// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlor/parlor/internal/account"
	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/pkg/errutil"
)

var tracer = otel.Tracer("parlor/protocol")

// Emitter delivers an outbound event to a single connection.
type Emitter interface {
	EmitTo(connID, event string, payload any) error
}

// Authenticator checks credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*account.Account, error)
}

// Accounts creates accounts and answers availability probes.
type Accounts interface {
	Register(ctx context.Context, c account.Candidate) (*account.Account, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
}

// Sessions records which connection is authenticated as which account.
type Sessions interface {
	Track(connID string)
	Bind(connID string, accountID ulid.ULID) bool
	Unbind(connID string) (ulid.ULID, bool)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the Handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Handler dispatches inbound events for every connection.
type Handler struct {
	auth     Authenticator
	accounts Accounts
	sessions Sessions
	emitter  Emitter
	logger   *slog.Logger
}

// NewHandler creates a Handler. Returns an error if a dependency is nil.
func NewHandler(authn Authenticator, accounts Accounts, sessions Sessions, emitter Emitter, opts ...HandlerOption) (*Handler, error) {
	if authn == nil {
		return nil, oops.Errorf("authenticator is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("accounts are required")
	}
	if sessions == nil {
		return nil, oops.Errorf("sessions are required")
	}
	if emitter == nil {
		return nil, oops.Errorf("emitter is required")
	}
	h := &Handler{
		auth:     authn,
		accounts: accounts,
		sessions: sessions,
		emitter:  emitter,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// State is the lifecycle state of a connection.
type State int32

// Connection states.
const (
	StateAnonymous State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the protocol state of one connection. Handle must be called from
// a single goroutine per connection; Close may be called from any goroutine.
type Conn struct {
	id    string
	h     *Handler
	state atomic.Int32

	// replied is set once the current event has sent its reply.
	replied bool
}

// Open starts tracking connID and returns its protocol state.
func (h *Handler) Open(connID string) *Conn {
	h.sessions.Track(connID)
	h.logger.Info("connection opened", "conn_id", connID)
	return &Conn{id: connID, h: h}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// State returns the current connection state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Close moves the connection to Closed and unbinds it. Safe to call more
// than once.
func (c *Conn) Close() {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	attrs := []any{"conn_id", c.id}
	if accountID, ok := c.h.sessions.Unbind(c.id); ok {
		attrs = append(attrs, "account_id", accountID.String())
	}
	c.h.logger.Info("connection closed", attrs...)
}

// Handle processes one inbound event. Failures are reported to the client
// and never escape; a panic in one event leaves the connection usable.
func (c *Conn) Handle(ctx context.Context, event string, data json.RawMessage) {
	if c.State() == StateClosed {
		return
	}

	c.replied = false
	label := metricLabel(event)
	start := time.Now()
	ctx, span := tracer.Start(ctx, "protocol.event",
		trace.WithAttributes(
			attribute.String("protocol.event", label),
			attribute.String("protocol.conn_id", c.id),
		),
	)

	status := StatusError
	defer func() {
		if r := recover(); r != nil {
			status = StatusPanic
			err := oops.With("event", event).With("conn_id", c.id).Errorf("panic handling event: %v", r)
			span.RecordError(err)
			errutil.LogError(ctx, c.h.logger, "event handler panicked", err)
			if !c.replied {
				c.emitFailure(ctx, event)
			}
		}
		span.SetAttributes(attribute.String("protocol.status", status))
		if status == StatusError || status == StatusPanic {
			span.SetStatus(codes.Error, status)
		}
		span.End()
		recordEvent(label, status, time.Since(start))
	}()

	switch event {
	case EventLogin:
		status = c.login(ctx, data)
	case EventRegister:
		status = c.register(ctx, data)
	case EventCheckUsernameExists, EventCheckIfUserExists:
		status = c.checkUsername(ctx, data)
	case EventHello:
		c.h.logger.InfoContext(ctx, "hello received", "conn_id", c.id)
		status = StatusSuccess
	default:
		c.h.logger.InfoContext(ctx, "unknown event", "conn_id", c.id, "event", event)
		c.emit(ctx, EventError, "Unknown event: "+event)
		status = StatusInvalid
	}
}

func (c *Conn) login(ctx context.Context, data json.RawMessage) string {
	var req LoginRequest
	if err := decodePayload(EventLogin, data, &req); err != nil {
		c.h.logger.DebugContext(ctx, "malformed login", append(errutil.Attrs(err), "conn_id", c.id)...)
		c.emit(ctx, EventLoginError, MsgCredentialsRequired)
		return StatusInvalid
	}

	acct, err := c.h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if account.IsCode(err, auth.CodeInvalidCredentials) {
			c.emit(ctx, EventLoginError, MsgBadCredentials)
			return StatusRejected
		}
		if c.disconnected(ctx, "login", err) {
			return StatusAbandoned
		}
		errutil.LogError(ctx, c.h.logger, "login failed", err, "conn_id", c.id)
		c.emit(ctx, EventLoginError, MsgLoginUnavailable)
		return StatusError
	}

	if !c.h.sessions.Bind(c.id, acct.ID) {
		c.h.logger.DebugContext(ctx, "connection closed before login completed",
			"conn_id", c.id,
			"account_id", acct.ID.String(),
		)
		return StatusAbandoned
	}
	c.state.CompareAndSwap(int32(StateAnonymous), int32(StateAuthenticated))

	c.h.logger.InfoContext(ctx, "login succeeded",
		"conn_id", c.id,
		"account_id", acct.ID.String(),
		"username", acct.Username,
	)
	c.emit(ctx, EventLoginSuccessful, NewAccountView(acct))
	return StatusSuccess
}

func (c *Conn) register(ctx context.Context, data json.RawMessage) string {
	var req RegisterRequest
	if err := decodePayload(EventRegister, data, &req); err != nil {
		c.h.logger.DebugContext(ctx, "malformed registration", append(errutil.Attrs(err), "conn_id", c.id)...)
		c.emit(ctx, EventRegistrationError, MsgInvalidRegistration)
		return StatusInvalid
	}

	acct, err := c.h.accounts.Register(ctx, account.Candidate{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	switch {
	case err == nil:
	case account.IsCode(err, account.CodeUsernameTaken):
		c.emit(ctx, EventRegistrationError, MsgUsernameTaken)
		return StatusRejected
	case account.IsCode(err, account.CodeInvalid):
		c.emit(ctx, EventRegistrationError, validationMessage(err))
		return StatusInvalid
	case c.disconnected(ctx, "register", err):
		return StatusAbandoned
	default:
		errutil.LogError(ctx, c.h.logger, "registration failed", err, "conn_id", c.id)
		c.emit(ctx, EventRegistrationError, MsgRegistrationUnavailable)
		return StatusError
	}

	c.emit(ctx, EventRegistrationSuccess, NewAccountView(acct))
	return StatusSuccess
}

func (c *Conn) checkUsername(ctx context.Context, data json.RawMessage) string {
	username, err := decodeUsername(data)
	if err != nil {
		c.emit(ctx, EventError, MsgUsernameRequired)
		return StatusInvalid
	}

	available, err := c.h.accounts.UsernameAvailable(ctx, username)
	if err != nil {
		if c.disconnected(ctx, "username check", err) {
			return StatusAbandoned
		}
		errutil.LogError(ctx, c.h.logger, "username check failed", err, "conn_id", c.id)
		c.emit(ctx, EventError, MsgProbeUnavailable)
		return StatusError
	}
	if available {
		c.emit(ctx, EventRegistrationError, nil)
	} else {
		c.emit(ctx, EventRegistrationError, MsgUsernameTaken)
	}
	return StatusSuccess
}

// decodeUsername accepts {"username": "..."} or a bare JSON string.
func decodeUsername(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var username string
		if err := json.Unmarshal(trimmed, &username); err != nil {
			return "", oops.Code(CodeInvalidPayload).Wrap(err)
		}
		if username == "" {
			return "", oops.Code(CodeInvalidPayload).Errorf("username is empty")
		}
		return username, nil
	}

	var req UsernameCheck
	if err := decodePayload(EventCheckUsernameExists, trimmed, &req); err != nil {
		return "", err
	}
	return req.Username, nil
}

// disconnected reports whether ctx ended under a failing call. The client is
// gone then, so the failure is logged at debug level and no reply is sent.
func (c *Conn) disconnected(ctx context.Context, op string, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	c.h.logger.DebugContext(ctx, "client left before "+op+" completed",
		append(errutil.Attrs(err), "conn_id", c.id)...)
	return true
}

// emitFailure sends the generic failure reply for event.
func (c *Conn) emitFailure(ctx context.Context, event string) {
	switch event {
	case EventLogin:
		c.emit(ctx, EventLoginError, MsgLoginUnavailable)
	case EventRegister:
		c.emit(ctx, EventRegistrationError, MsgRegistrationUnavailable)
	case EventCheckUsernameExists, EventCheckIfUserExists:
		c.emit(ctx, EventError, MsgProbeUnavailable)
	default:
		c.emit(ctx, EventError, MsgInternal)
	}
}

func (c *Conn) emit(ctx context.Context, event string, payload any) {
	c.replied = true
	if err := c.h.emitter.EmitTo(c.id, event, payload); err != nil {
		c.h.logger.DebugContext(ctx, "emit failed",
			"conn_id", c.id,
			"event", event,
			"error", err,
		)
	}
}

// validationMessage returns the client-facing text of a validation error.
func validationMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Error(); msg != "" {
			return capitalize(msg)
		}
	}
	return MsgInvalidRegistration
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
