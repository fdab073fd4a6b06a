// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// connectBackoffBase is the first delay between connection attempts.
const connectBackoffBase = 200 * time.Millisecond

// Pinger is the health check Connect waits on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// up to retries extra attempts so the gateway tolerates a database that is
// still starting.
func Connect(ctx context.Context, databaseURL string, retries uint64) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := WaitReady(ctx, pool, retries, connectBackoffBase); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// WaitReady pings p until it answers or the retry budget is spent.
func WaitReady(ctx context.Context, p Pinger, retries uint64, base time.Duration) error {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(base))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := p.Ping(ctx); err != nil {
			slog.Warn("database not ready",
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
