// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embermush/embermush/internal/account"
	accountpg "github.com/embermush/embermush/internal/account/postgres"
	"github.com/embermush/embermush/internal/config"
	"github.com/embermush/embermush/internal/logging"
	"github.com/embermush/embermush/internal/observability"
	"github.com/embermush/embermush/internal/sshd"
	"github.com/embermush/embermush/internal/store"
	"github.com/embermush/embermush/internal/userauth"
)

const shutdownTimeout = 5 * time.Second

// newGatewayCmd creates the gateway subcommand. Flag names are dotted config
// paths so flags, the config file, and defaults all address the same keys.
func newGatewayCmd() *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the gateway process (auth listener, account store)",
		Long: `Start the gateway process which accepts client connections,
authenticates them against the account store, and hands
authenticated connections to the game service.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if printConfig {
				return cfg.Dump("-")
			}
			return runGateway(cmd.Context(), cfg, cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("listen.addr", defaults.Listen.Addr, "auth listen address")
	cmd.Flags().String("listen.banner", defaults.Listen.Banner, "banner sent before authentication (empty = disabled)")
	cmd.Flags().Duration("listen.idle_timeout", defaults.Listen.IdleTimeout, "unauthenticated connection idle timeout")
	cmd.Flags().String("store.dsn", defaults.Store.DSN, "PostgreSQL connection string")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")

	return cmd
}

// runGateway starts the gateway process and blocks until shutdown.
func runGateway(ctx context.Context, cfg config.Config, cmd *cobra.Command) error {
	logging.SetDefault("embermush", version, cfg.Log.Format, cfg.Log.Level)

	slog.Info("starting gateway process",
		"listen_addr", cfg.Listen.Addr,
		"log_format", cfg.Log.Format,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := checkMigrations(cfg.Store.DSN); err != nil {
		return err
	}

	accounts, err := account.NewServiceWithLogger(
		accountpg.NewAccountRepository(pool),
		accountpg.NewCharacterRepository(pool),
		account.NewArgon2idHasher(),
		slog.Default(),
	)
	if err != nil {
		return fmt.Errorf("failed to create account service: %w", err)
	}
	if err := accounts.EnsureGuest(ctx); err != nil {
		return fmt.Errorf("failed to provision guest identity: %w", err)
	}

	denyPatterns := cfg.Auth.DenyPatterns
	if len(denyPatterns) == 0 {
		denyPatterns = userauth.DefaultDenyPatterns()
	}
	deny, err := userauth.NewDenyList(denyPatterns)
	if err != nil {
		return fmt.Errorf("failed to compile deny list: %w", err)
	}

	// Start observability server if configured
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return fmt.Errorf("failed to start observability server: %w", obsErr)
		}
		go func() {
			if serveErr := <-obsErrChan; serveErr != nil {
				slog.Error("observability server error", "error", serveErr)
			}
		}()
		metrics = obsServer.Metrics()
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	srv, err := sshd.NewServer(sshd.Config{
		Addr:        cfg.Listen.Addr,
		IdleTimeout: cfg.Listen.IdleTimeout,
		Banner:      cfg.Listen.Banner,
		Gateway:     accounts,
		Deny:        deny,
		Limits: userauth.Limits{
			MaxStateResets:     cfg.Auth.MaxStateResets,
			MaxRequestPackets:  cfg.Auth.MaxRequestPackets,
			MaxResponsePackets: cfg.Auth.MaxResponsePackets,
		},
		Runner:  sshd.ServiceRunnerFunc(runGamePlaceholder),
		Metrics: metrics,
		Logger:  slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create auth server: %w", err)
	}

	srvErrChan := make(chan error, 1)
	go func() {
		srvErrChan <- srv.Run(ctx)
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Gateway process started")
	slog.Info("gateway process ready", "listen_addr", cfg.Listen.Addr)

	// Wait for shutdown signal or server failure
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case runErr = <-srvErrChan:
		if runErr != nil {
			slog.Error("auth server failed", "error", runErr)
		}
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return runErr
}

// checkMigrations warns when the schema is missing or dirty rather than
// failing, so a fresh install gets a clear hint instead of a pgx error.
func checkMigrations(dsn string) error {
	m, err := store.NewMigrator(dsn)
	if err != nil {
		return fmt.Errorf("failed to inspect migrations: %w", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Debug("error closing migrator", "error", closeErr)
		}
	}()

	schemaVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	switch {
	case dirty:
		slog.Warn("database schema is dirty; run 'embermush migrate force' to repair", "version", schemaVersion)
	case schemaVersion == 0:
		slog.Warn("database has no migrations applied; run 'embermush migrate up'")
	default:
		slog.Info("database schema up to date", "version", schemaVersion)
	}
	return nil
}

// runGamePlaceholder greets an authenticated connection and closes it.
// The game service hand-off replaces this once the engine process exists.
func runGamePlaceholder(_ context.Context, identity userauth.Identity, conn net.Conn) error {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("error closing game connection", "error", err)
		}
	}()

	name := identity.Character
	if name == "" {
		name = identity.Username
	}
	if _, err := fmt.Fprintf(conn, "Welcome to EmberMUSH, %s!\n", name); err != nil {
		slog.Debug("failed to send welcome message", "error", err)
		return nil
	}
	_, _ = fmt.Fprintln(conn, "The game service is pending implementation. Disconnecting...")
	return nil
}
