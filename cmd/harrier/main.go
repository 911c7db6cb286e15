// Harrier - Rule-driven product recommendations for retail banking.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/audit"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logger"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/statistics"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("harrier exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if Version != "dev" {
		cfg.App.Version = Version
	}

	log := logger.New(cfg.App)
	slog.SetDefault(log)

	slog.Info("starting harrier",
		"version", cfg.App.Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	config.LogConfig(log, cfg)

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Primary store: products and transactions
	primary, err := repository.New(cfg.Primary)
	if err != nil {
		return fmt.Errorf("failed to initialize primary repository: %w", err)
	}
	defer primary.Close()
	slog.Info("primary repository initialized", "driver", cfg.Primary.Driver)

	checks := map[string]api.Pinger{"primary": primary}

	// Rules store: rule definitions and the execution log
	ruleRepo := primary
	if rulesCfg, separate := config.RulesRepository(cfg); separate {
		ruleRepo, err = repository.New(rulesCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize rules repository: %w", err)
		}
		defer ruleRepo.Close()
		checks["rules"] = ruleRepo
		slog.Info("rules repository initialized", "driver", rulesCfg.Driver)
	}

	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer resultCache.Close()
	checks["cache"] = resultCache
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer eventBus.Close()
	checks["bus"] = eventBus
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	evaluator, err := rules.NewEvaluator(primary)
	if err != nil {
		return fmt.Errorf("failed to initialize evaluator: %w", err)
	}

	executionLog := audit.New(ruleRepo)
	stats := statistics.New()
	offers := catalog.Default()

	engine, err := rules.NewEngine(rules.Dependencies{
		Rules:     ruleRepo,
		Evaluator: evaluator,
		Log:       executionLog,
		Catalog:   offers,
		Stats:     stats,
		Cache:     resultCache,
		Bus:       eventBus,
	}, cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}

	ruleChanges, err := engine.WatchRuleChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch rule changes: %w", err)
	}
	defer ruleChanges.Unsubscribe()

	// Warm the active rule cache; an empty store is fine, rules arrive via the API.
	active, err := engine.ActiveRules(ctx)
	if err != nil {
		slog.Warn("failed to load active rules", "error", err)
	} else {
		slog.Info("rule engine initialized", "active_rules", len(active))
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(eventBus, engine)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "topic", domain.TopicRecommendationRequested)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Engine:       engine,
		Rules:        ruleRepo,
		Log:          executionLog,
		Stats:        stats,
		Catalog:      offers,
		Transactions: primary,
		Aggregates:   primary,
		Cache:        resultCache,
		Checks:       checks,
		Name:         cfg.App.Name,
		Version:      cfg.App.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config) {
	fmt.Println()
	fmt.Println("  HARRIER - product recommendation engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", cfg.App.Version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Stores:   primary=%s rules=%s\n", cfg.Primary.Driver, rulesDriver(cfg))
	fmt.Printf("  Cache:    %s   Bus: %s\n", cfg.Cache.Type, cfg.EventBus.Type)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /recommendations?userId=  - Offers for a customer")
	fmt.Println("    GET    /rules                    - List rules")
	fmt.Println("    POST   /rules                    - Create a rule")
	fmt.Println("    PUT    /rules/{id}               - Replace a rule")
	fmt.Println("    PATCH  /rules/{id}/status        - Activate or deactivate")
	fmt.Println("    DELETE /rules/{id}               - Delete a rule")
	fmt.Println("    GET    /statistics               - Recommendation statistics")
	fmt.Println("    GET    /executions/summary       - Execution log totals")
	fmt.Println("    POST   /management/clear-caches  - Drop cached results")
	fmt.Println("    GET    /health                   - Health check")
	fmt.Println("    GET    /metrics                  - Prometheus metrics")
	fmt.Println()
}

func rulesDriver(cfg *domain.Config) string {
	rulesCfg, separate := config.RulesRepository(cfg)
	if !separate {
		return "shared"
	}
	return rulesCfg.Driver
}
