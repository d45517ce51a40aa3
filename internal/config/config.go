package config

// Package config provides configuration management for the optimizer agent.
//
// Sources, in priority order (high to low):
//  1. Environment variables (CEMENTAI_* prefix)
//  2. YAML config file (default: /etc/cementai/config.yaml)
//  3. Built-in defaults
//
// Policy thresholds are deliberately configuration, not code: the approval
// cutoffs are operator policy and must be tunable per deployment.

import (
	"context"
	"errors"
	"fmt"
)

// Config contains all configuration fields.
type Config struct {
	Server struct {
		Port int
		// AllowedOrigins lists origins permitted to open WebSocket
		// connections. ["*"] allows any origin (development only).
		AllowedOrigins []string
	}

	Database struct {
		SQLitePath string
	}

	LLM struct {
		Provider string // "gemini" | "openai"
		APIKey   string
		Model    string
		BaseURL  string // OpenAI-compatible provider only
	}

	Policy struct {
		ConfidenceThreshold float64
		DenyTypes           []string
		AutoApprover        string
	}

	Orchestrator struct {
		FetchLimit  int
		Concurrency int
	}

	Predictors struct {
		ServingBaseURL string
	}

	Plant struct {
		DefaultPlantID string
		DefaultLineID  string
	}

	Logging struct {
		Level        string // "debug" | "info" | "warn" | "error"
		Format       string // "json" | "text"
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		CompressLogs bool
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	cfg.Database.SQLitePath = "data/agent.db"

	cfg.LLM.Provider = "gemini"
	cfg.LLM.Model = ""

	cfg.Policy.ConfidenceThreshold = 0.90
	cfg.Policy.DenyTypes = []string{"PM_RISK_HIGH"}
	cfg.Policy.AutoApprover = "SYSTEM_AUTO"

	cfg.Orchestrator.FetchLimit = 5
	cfg.Orchestrator.Concurrency = 1

	cfg.Plant.DefaultPlantID = "plant_01"
	cfg.Plant.DefaultLineID = "line_2"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.CompressLogs = true

	return cfg
}

// Validate returns all configuration problems found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.SQLitePath == "" {
		errs = append(errs, errors.New("database.sqlite_path is required"))
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q unknown (want gemini or openai)", c.LLM.Provider))
	}
	if c.Policy.ConfidenceThreshold <= 0 || c.Policy.ConfidenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("policy.confidence_threshold %v must be in (0,1)", c.Policy.ConfidenceThreshold))
	}
	if c.Policy.AutoApprover == "" {
		errs = append(errs, errors.New("policy.auto_approver is required"))
	}
	if c.Orchestrator.FetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.fetch_limit %d must be positive", c.Orchestrator.FetchLimit))
	}
	if c.Orchestrator.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.concurrency %d must not be negative", c.Orchestrator.Concurrency))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", c.Logging.Level))
	}

	return errs
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits reloaded configs.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a configuration manager for the given file path.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
}
