package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("CEMENTAI")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional: defaults plus env vars are a complete
	// configuration.
	if err := m.viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes and emits reloaded configs.
// Reloadable settings today are the policy section; consumers pick up the
// new values on the next cycle.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
		}
	})
	return m.watchChan
}

// Reload re-reads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)

	m.viper.SetDefault("policy.confidence_threshold", defaults.Policy.ConfidenceThreshold)
	m.viper.SetDefault("policy.deny_types", defaults.Policy.DenyTypes)
	m.viper.SetDefault("policy.auto_approver", defaults.Policy.AutoApprover)

	m.viper.SetDefault("orchestrator.fetch_limit", defaults.Orchestrator.FetchLimit)
	m.viper.SetDefault("orchestrator.concurrency", defaults.Orchestrator.Concurrency)

	m.viper.SetDefault("predictors.serving_base_url", defaults.Predictors.ServingBaseURL)

	m.viper.SetDefault("plant.default_plant_id", defaults.Plant.DefaultPlantID)
	m.viper.SetDefault("plant.default_line_id", defaults.Plant.DefaultLineID)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.CompressLogs)
}

func (m *viperManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")

	cfg.Policy.ConfidenceThreshold = m.viper.GetFloat64("policy.confidence_threshold")
	cfg.Policy.DenyTypes = m.viper.GetStringSlice("policy.deny_types")
	cfg.Policy.AutoApprover = m.viper.GetString("policy.auto_approver")

	cfg.Orchestrator.FetchLimit = m.viper.GetInt("orchestrator.fetch_limit")
	cfg.Orchestrator.Concurrency = m.viper.GetInt("orchestrator.concurrency")

	cfg.Predictors.ServingBaseURL = m.viper.GetString("predictors.serving_base_url")

	cfg.Plant.DefaultPlantID = m.viper.GetString("plant.default_plant_id")
	cfg.Plant.DefaultLineID = m.viper.GetString("plant.default_line_id")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.CompressLogs = m.viper.GetBool("logging.compress")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperManager) applyEnvOverrides() {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && m.config.LLM.Provider == "gemini" {
		m.config.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && m.config.LLM.Provider == "openai" {
		m.config.LLM.APIKey = apiKey
	}
}
