package main

// Package main is the entry point for the optimizer agent.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite stores (state, recommendations, audit log)
//   - Wire the language-model client, predictors, policy engine, executor
//     and orchestrator together
//   - Start the REST API server, the Prometheus endpoint and the WebSocket
//     cycle feed
//   - Watch the config file so policy thresholds reload without a restart
//   - Implement graceful shutdown with context cancellation

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cementai/optimizer-agent/internal/audit"
	"github.com/cementai/optimizer-agent/internal/config"
	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/executor"
	"github.com/cementai/optimizer-agent/internal/explain"
	"github.com/cementai/optimizer-agent/internal/llm"
	"github.com/cementai/optimizer-agent/internal/orchestrator"
	"github.com/cementai/optimizer-agent/internal/policy"
	"github.com/cementai/optimizer-agent/internal/predict"
	"github.com/cementai/optimizer-agent/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/cementai/config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	mgr := config.NewManager(configPath)
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return err
	}
	cfg := mgr.Get(ctx)

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	trail, err := audit.NewTrail(audit.Config{
		Path:       cfg.Logging.AuditLogPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.CompressLogs,
	})
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer func() { _ = trail.Close() }()

	llmClient, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("initialize llm client: %w", err)
	}

	generator := explain.NewGenerator(llmClient, logger)
	exec := executor.New(store, trail, logger)
	engine := policy.NewReloadableEngine(policy.Config{
		ConfidenceThreshold: cfg.Policy.ConfidenceThreshold,
		DenyTypes:           cfg.Policy.DenyTypes,
	})
	orch := orchestrator.New(store, engine, generator, exec, trail, logger, orchestrator.Config{
		Approver:    cfg.Policy.AutoApprover,
		FetchLimit:  cfg.Orchestrator.FetchLimit,
		Concurrency: cfg.Orchestrator.Concurrency,
	})

	deps := server.Deps{
		Store:     store,
		Runner:    orch,
		Explainer: generator,
		Executor:  exec,
		Logger:    logger,
	}
	if cfg.Predictors.ServingBaseURL != "" {
		predictor, err := predict.NewHTTPClient(cfg.Predictors.ServingBaseURL)
		if err != nil {
			return fmt.Errorf("initialize predictors: %w", err)
		}
		deps.Energy = predictor
		deps.PMRisk = predictor
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = trail.Log(audit.NewEvent(audit.EventServerStarted).WithResult(audit.ResultSuccess))

	// Policy thresholds reload on config file change without a restart.
	watchCh := mgr.Watch(ctx)
	go func() {
		for updated := range watchCh {
			engine.Update(policy.Config{
				ConfidenceThreshold: updated.Policy.ConfidenceThreshold,
				DenyTypes:           updated.Policy.DenyTypes,
			})
			logger.Info("policy configuration reloaded",
				zap.Float64("confidence_threshold", updated.Policy.ConfidenceThreshold),
				zap.Strings("deny_types", updated.Policy.DenyTypes))
			_ = trail.Log(audit.NewEvent(audit.EventConfigReloaded).WithResult(audit.ResultSuccess))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	_ = trail.Log(audit.NewEvent(audit.EventServerShutdown).WithResult(audit.ResultSuccess))
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if err := zcfg.Level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return nil, err
	}
	return zcfg.Build()
}
