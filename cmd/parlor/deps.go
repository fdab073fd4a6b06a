// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parlor/parlor/internal/account"
	"github.com/parlor/parlor/internal/config"
	"github.com/parlor/parlor/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the account store named by cfg.
	// Default: openStore
	StoreFactory func(ctx context.Context, cfg config.StoreConfig) (account.Store, func(), error)

	// MigratorFactory creates a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// ControlServerFactory creates a control gRPC server.
	// Default: control.NewGRPCServer
	ControlServerFactory func(component string) (ControlServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// OnListening is called with the gateway address once it accepts clients.
	OnListening func(addr string)
}

// AutoMigrator wraps the methods used from store.Migrator at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ControlServer wraps the methods used from control.GRPCServer.
type ControlServer interface {
	Start(addr string) (<-chan error, error)
	SetServing(serving bool)
	Stop(ctx context.Context) error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}
