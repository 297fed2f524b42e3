// Copyright 2026 The Keyring Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opentrusty/keyring/internal/config"
	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/observability/logger"
	"github.com/opentrusty/keyring/internal/observability/metrics"
	"github.com/opentrusty/keyring/internal/observability/tracing"
	"github.com/opentrusty/keyring/internal/refresher"
	"github.com/opentrusty/keyring/internal/storage"
	"github.com/opentrusty/keyring/internal/transport/hkp"
	transportHTTP "github.com/opentrusty/keyring/internal/transport/http"
	"github.com/opentrusty/keyring/internal/trust"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting keyring trust store")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter and instruments
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	var instruments *metrics.Instruments
	if meter != nil {
		instruments, err = metrics.NewInstruments(meter)
		if err != nil {
			slog.Error("failed to create instruments", logger.Error(err))
		}
	}

	// Trust context: domain, home directory, network policy
	opts := []core.Option{core.WithNetworkPolicy(cfg.NetworkPolicy())}
	if cfg.Keyring.Home != "" {
		opts = append(opts, core.WithHome(cfg.Keyring.Home))
	}
	trustCtx, err := core.NewContext(cfg.Keyring.Domain, opts...)
	if err != nil {
		slog.Error("invalid trust context", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := storage.Open(databaseConfig(cfg, trustCtx))
	if err != nil {
		slog.Error("failed to open database", logger.Error(err))
		os.Exit(1)
	}
	if err := storage.Migrate(db); err != nil {
		slog.Error("failed to migrate database", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("database ready", logger.String("driver", cfg.Database.Driver))

	// Trust service over the persisted state
	svc, err := trust.NewService(ctx, trustCtx, storage.Repositories(db))
	if err != nil {
		slog.Error("failed to load trust store", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("trust store loaded",
		logger.Domain(trustCtx.Domain()),
		logger.Policy(trustCtx.NetworkPolicy().String()))

	// Background refresher, keyserver-backed
	var manager *refresher.Manager
	if cfg.Refresher.Enabled {
		fetcher, err := hkp.NewClient(hkp.Config{
			ServerURL: cfg.Keyserver.URL,
			ProxyURL:  cfg.Keyserver.ProxyURL,
			Policy:    trustCtx.NetworkPolicy(),
			Timeout:   cfg.Refresher.Timeout,
		})
		if err != nil {
			slog.Error("invalid keyserver configuration", logger.Error(err))
			os.Exit(1)
		}
		manager = refresher.NewManager(svc, fetcher, refresher.Config{
			Interval: cfg.Refresher.Interval,
			Jitter:   cfg.Refresher.Jitter,
			Timeout:  cfg.Refresher.Timeout,
		}, instruments)
		// Stores created over the API after boot reach the schedule
		// through the open hook; startRefreshers covers the ones
		// already persisted.
		svc.OnStoreOpen(manager.Start)
		if err := startRefreshers(ctx, svc, manager); err != nil {
			slog.Error("failed to start refreshers", logger.Error(err))
			os.Exit(1)
		}
		defer manager.StopAll()
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler and router
	handler := transportHTTP.NewHandler(svc, instruments)
	router := transportHTTP.NewRouter(handler, rateLimiter, cfg.API.AuthToken)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// startRefreshers opens every persisted store in this domain and puts
// it on the refresh schedule.
func startRefreshers(ctx context.Context, svc *trust.Service, manager *refresher.Manager) error {
	cur, err := svc.ListStores(ctx, svc.Context().Domain())
	if err != nil {
		return err
	}
	infos, err := trust.Collect(cur)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.Domain != svc.Context().Domain() {
			continue
		}
		st, err := svc.OpenStore(ctx, info.Name)
		if err != nil {
			return err
		}
		manager.Start(st)
	}
	return nil
}

func databaseConfig(cfg *config.Config, trustCtx *core.Context) storage.Config {
	dsn := cfg.Database.DSN
	if dsn == "" && cfg.Database.Driver == "sqlite" {
		dsn = filepath.Join(trustCtx.Home(), "keyring.db")
	}
	return storage.Config{
		Driver:       cfg.Database.Driver,
		DSN:          dsn,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

func runMigrate(cfg *config.Config) error {
	trustCtx, err := core.NewContext(cfg.Keyring.Domain)
	if err != nil {
		return err
	}
	db, err := storage.Open(databaseConfig(cfg, trustCtx))
	if err != nil {
		return err
	}
	return storage.Migrate(db)
}
