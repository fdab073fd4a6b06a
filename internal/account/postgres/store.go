// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package postgres implements account.Store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/parlor/parlor/internal/account"
)

// UsernameConstraint is the unique constraint guarding accounts.username.
const UsernameConstraint = "accounts_username_key"

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements account.Store using PostgreSQL.
type Store struct {
	db DB
}

// NewStore creates a Store on db, typically a *pgxpool.Pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// FindByUsername retrieves an account by exact username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, first_name, last_name,
		       conversations, created_at
		FROM accounts
		WHERE username = $1
	`, username)

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("username", username).Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "find account by username").
			With("username", username).
			Wrap(err)
	}
	return acct, nil
}

// InsertIfUsernameAbsent inserts the account and relies on the unique
// constraint on username to reject duplicates atomically.
func (s *Store) InsertIfUsernameAbsent(ctx context.Context, acct *account.Account) (*account.Account, error) {
	created := *acct
	created.ID = ulid.Make()
	created.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	if created.Conversations == nil {
		created.Conversations = []string{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (
			id, username, password_hash, first_name, last_name,
			conversations, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		created.ID.String(),
		created.Username,
		created.PasswordHash,
		created.FirstName,
		created.LastName,
		created.Conversations,
		created.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == UsernameConstraint {
			return nil, oops.With("username", acct.Username).
				With("constraint", pgErr.ConstraintName).
				Wrap(account.ErrUsernameTaken)
		}
		return nil, oops.With("operation", "insert account").
			With("username", acct.Username).
			Wrap(err)
	}
	return &created, nil
}

// scanAccount scans a single row. Callers handle pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		idStr string
		acct  account.Account
	)
	err := row.Scan(
		&idStr,
		&acct.Username,
		&acct.PasswordHash,
		&acct.FirstName,
		&acct.LastName,
		&acct.Conversations,
		&acct.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add context
		}
		return nil, oops.With("operation", "scan account").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}
	acct.ID = id
	if acct.Conversations == nil {
		acct.Conversations = []string{}
	}
	return &acct, nil
}

// Compile-time interface check.
var _ account.Store = (*Store)(nil)
