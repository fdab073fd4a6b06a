// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/parlor/parlor/internal/account"
	"github.com/parlor/parlor/internal/account/memory"
	"github.com/parlor/parlor/internal/account/postgres"
	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/config"
	"github.com/parlor/parlor/internal/control"
	"github.com/parlor/parlor/internal/gateway"
	"github.com/parlor/parlor/internal/logging"
	"github.com/parlor/parlor/internal/observability"
	"github.com/parlor/parlor/internal/protocol"
	"github.com/parlor/parlor/internal/session"
	"github.com/parlor/parlor/internal/store"
)

// serviceName identifies this process in logs and health checks.
const serviceName = "parlor"

// shutdownTimeout bounds the graceful stop of auxiliary servers.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket gateway",
		Long: `Start the gateway which accepts client connections and answers login,
register and checkUsernameExists events against the account store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the gateway with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.StoreFactory == nil {
		migratorFactory := deps.MigratorFactory
		deps.StoreFactory = func(ctx context.Context, sc config.StoreConfig) (account.Store, func(), error) {
			return openStore(ctx, sc, migratorFactory)
		}
	}
	if deps.ControlServerFactory == nil {
		deps.ControlServerFactory = func(component string) (ControlServer, error) {
			return control.NewGRPCServer(component)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level)

	logger.Info("starting parlor",
		"listen_addr", cfg.ListenAddr,
		"ws_path", cfg.WSPath,
		"store", cfg.Store.Driver,
	)

	accountStore, closeStore, err := deps.StoreFactory(ctx, cfg.Store)
	if err != nil {
		return oops.With("operation", "open account store").Wrap(err)
	}
	defer closeStore()

	hasher, err := auth.NewHasher(cfg.Auth.Hasher, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	registry, err := account.NewRegistry(accountStore, hasher,
		account.WithStoreTimeout(cfg.Store.Timeout),
		account.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	authn, err := auth.NewServiceWithLogger(registry, hasher, logger)
	if err != nil {
		return err
	}
	binder := session.NewBinder(session.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	srv := gateway.NewServer(cfg.ListenAddr,
		gateway.WithPath(cfg.WSPath),
		gateway.WithAllowedOrigins(cfg.Gateway.AllowedOrigins),
		gateway.WithWriteTimeout(cfg.Gateway.WriteTimeout),
		gateway.WithMaxMessageBytes(cfg.Gateway.MaxMessageBytes),
		gateway.WithLogger(logger),
		gateway.WithOnListen(func(addr string) {
			ready.Store(true)
			if deps.OnListening != nil {
				deps.OnListening(addr)
			}
		}),
	)
	handler, err := protocol.NewHandler(authn, registry, binder, srv, protocol.WithLogger(logger))
	if err != nil {
		return err
	}

	var controlServer ControlServer
	if cfg.ControlAddr != "" {
		controlServer, err = deps.ControlServerFactory(serviceName)
		if err != nil {
			return oops.With("operation", "create control server").Wrap(err)
		}
		controlErrChan, err := controlServer.Start(cfg.ControlAddr)
		if err != nil {
			return oops.With("operation", "start control server").Wrap(err)
		}
		// Monitor control server errors in background - cancel context on error
		go monitorServerErrors(ctx, cancel, controlErrChan, "control-grpc")
		logger.Info("control gRPC server started", "addr", cfg.ControlAddr)
	}

	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load)
		reg := obsServer.Registry()
		protocol.RegisterMetrics(reg)
		gateway.RegisterMetrics(reg)
		observability.RegisterSessionMetrics(reg, binder)

		obsErrChan, err := obsServer.Start()
		if err != nil {
			stopServers(logger, controlServer, nil)
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	opener := gateway.OpenerFunc(func(connID string) gateway.Connection {
		return handler.Open(connID)
	})
	gatewayErr := make(chan error, 1)
	go func() {
		gatewayErr <- srv.Run(ctx, opener)
	}()

	if controlServer != nil {
		controlServer.SetServing(true)
	}
	cmd.Println("Parlor started")

	var runErr error
	gatewayDone := false
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case runErr = <-gatewayErr:
		gatewayDone = true
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	ready.Store(false)
	if controlServer != nil {
		controlServer.SetServing(false)
	}
	cancel()
	if !gatewayDone {
		runErr = <-gatewayErr
	}
	stopServers(logger, controlServer, obsServer)

	if runErr != nil {
		return oops.With("operation", "run gateway").Wrap(runErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// openStore opens the configured account store. The returned function
// releases it.
func openStore(ctx context.Context, sc config.StoreConfig, migratorFactory func(string) (AutoMigrator, error)) (account.Store, func(), error) {
	if sc.Driver == config.DriverMemory {
		slog.Warn("using in-memory account store; accounts are lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, sc.DatabaseURL, sc.ConnectRetries)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to database")

	if sc.AutoMigrate {
		if err := runAutoMigration(sc.DatabaseURL, migratorFactory); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// runAutoMigration applies pending migrations at startup.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// stopServers stops the auxiliary servers that were started. Either may be nil.
func stopServers(logger *slog.Logger, controlServer ControlServer, obsServer ObservabilityServer) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}
	if controlServer != nil {
		if err := controlServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping control gRPC server", "error", err)
		}
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
