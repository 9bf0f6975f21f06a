// Package config loads and validates runtime configuration for nchat-core.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// nchat-core - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	Vault      VaultConfig      `yaml:"vault"`
	Connector  ConnectorConfig  `yaml:"connector"`
	Health     HealthConfig     `yaml:"health"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Audit      AuditConfig      `yaml:"audit"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// CryptoConfig tunes the cryptocore primitives layer.
type CryptoConfig struct {
	HKDFInfoPrefix   string `yaml:"hkdf_info_prefix"`
	FingerprintBytes int    `yaml:"fingerprint_bytes"`
}

// VaultConfig tunes the credential vault.
type VaultConfig struct {
	MasterKeyEnv  string `yaml:"master_key_env"` // env var whose first 32 raw bytes are the AES-256 key
	RotationDays  int    `yaml:"rotation_days"`
}

// ConnectorConfig tunes connector retry/rate-limit defaults.
type ConnectorConfig struct {
	DefaultMaxAttempts  int     `yaml:"default_max_attempts"`
	DefaultBackoffMs    int     `yaml:"default_backoff_ms"`
	DefaultBackoffMult  float64 `yaml:"default_backoff_multiplier"`
	DefaultRatePerSec   float64 `yaml:"default_rate_per_sec"`
	DefaultRateBurst    int     `yaml:"default_rate_burst"`
}

// HealthConfig tunes the integration health monitor.
type HealthConfig struct {
	CheckIntervalSec     int `yaml:"check_interval_sec"`
	UnhealthyAfterFails  int `yaml:"unhealthy_after_fails"`
	DegradedLatencyMs    int `yaml:"degraded_latency_ms"`
	HistoryWindow        int `yaml:"history_window"`
}

// WorkflowConfig tunes DAG/workflow-definition limits.
type WorkflowConfig struct {
	MaxSteps    int `yaml:"max_steps"`
	MaxWorkflow int `yaml:"max_workflows"`
}

// ExecutionConfig tunes the execution engine.
type ExecutionConfig struct {
	MaxConcurrentRuns   int `yaml:"max_concurrent_runs"`
	MaxConcurrentSteps  int `yaml:"max_concurrent_steps_per_run"`
	DefaultStepTimeoutS int `yaml:"default_step_timeout_sec"`
	IdempotencyTTLSec   int `yaml:"idempotency_ttl_sec"`
}

// ApprovalConfig tunes the approval-gate manager.
type ApprovalConfig struct {
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
	EscalationNoticeS  int `yaml:"escalation_notice_sec"`
}

// TriggerConfig tunes the cron/webhook trigger engine.
type TriggerConfig struct {
	CronResolutionSec int    `yaml:"cron_resolution_sec"`
	WebhookSecretEnv  string `yaml:"webhook_secret_env"`
}

// AuditConfig tunes the audit log / event bus.
type AuditConfig struct {
	BufferSize    int `yaml:"buffer_size"`
	RetentionDays int `yaml:"retention_days"`
}

// MonitoringConfig tunes Prometheus metrics exposure.
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("NCHAT_ENV", c.Server.Env)
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Crypto.HKDFInfoPrefix = getEnv("NCHAT_HKDF_INFO_PREFIX", c.Crypto.HKDFInfoPrefix)
	if v := getEnvInt("NCHAT_FINGERPRINT_BYTES", 0); v > 0 {
		c.Crypto.FingerprintBytes = v
	}

	c.Vault.MasterKeyEnv = getEnv("NCHAT_VAULT_MASTER_KEY_ENV", c.Vault.MasterKeyEnv)
	if v := getEnvInt("NCHAT_VAULT_ROTATION_DAYS", 0); v > 0 {
		c.Vault.RotationDays = v
	}

	if v := getEnvInt("NCHAT_CONNECTOR_MAX_ATTEMPTS", 0); v > 0 {
		c.Connector.DefaultMaxAttempts = v
	}
	if v := getEnvInt("NCHAT_CONNECTOR_BACKOFF_MS", 0); v > 0 {
		c.Connector.DefaultBackoffMs = v
	}
	if v := getEnvFloat("NCHAT_CONNECTOR_RATE_PER_SEC", 0); v > 0 {
		c.Connector.DefaultRatePerSec = v
	}

	if v := getEnvInt("NCHAT_HEALTH_CHECK_INTERVAL_SEC", 0); v > 0 {
		c.Health.CheckIntervalSec = v
	}
	if v := getEnvInt("NCHAT_HEALTH_UNHEALTHY_AFTER_FAILS", 0); v > 0 {
		c.Health.UnhealthyAfterFails = v
	}

	if v := getEnvInt("NCHAT_EXECUTION_MAX_CONCURRENT_RUNS", 0); v > 0 {
		c.Execution.MaxConcurrentRuns = v
	}
	if v := getEnvInt("NCHAT_EXECUTION_IDEMPOTENCY_TTL_SEC", 0); v > 0 {
		c.Execution.IdempotencyTTLSec = v
	}

	if v := getEnvInt("NCHAT_APPROVAL_DEFAULT_TIMEOUT_SEC", 0); v > 0 {
		c.Approval.DefaultTimeoutSec = v
	}

	c.Trigger.WebhookSecretEnv = getEnv("NCHAT_WEBHOOK_SECRET_ENV", c.Trigger.WebhookSecretEnv)

	c.Monitoring.Enabled = getEnvBool("NCHAT_METRICS_ENABLED", c.Monitoring.Enabled)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Crypto.HKDFInfoPrefix == "" {
		c.Crypto.HKDFInfoPrefix = "nchat/e2e/v1"
	}
	if c.Crypto.FingerprintBytes == 0 {
		c.Crypto.FingerprintBytes = 8
	}
	if c.Vault.MasterKeyEnv == "" {
		c.Vault.MasterKeyEnv = "NCHAT_VAULT_MASTER_KEY"
	}
	if c.Vault.RotationDays == 0 {
		c.Vault.RotationDays = 90
	}
	if c.Connector.DefaultMaxAttempts == 0 {
		c.Connector.DefaultMaxAttempts = 3
	}
	if c.Connector.DefaultBackoffMs == 0 {
		c.Connector.DefaultBackoffMs = 500
	}
	if c.Connector.DefaultBackoffMult == 0 {
		c.Connector.DefaultBackoffMult = 2.0
	}
	if c.Connector.DefaultRatePerSec == 0 {
		c.Connector.DefaultRatePerSec = 5
	}
	if c.Connector.DefaultRateBurst == 0 {
		c.Connector.DefaultRateBurst = 10
	}
	if c.Health.CheckIntervalSec == 0 {
		c.Health.CheckIntervalSec = 30
	}
	if c.Health.UnhealthyAfterFails == 0 {
		c.Health.UnhealthyAfterFails = 3
	}
	if c.Health.DegradedLatencyMs == 0 {
		c.Health.DegradedLatencyMs = 2000
	}
	if c.Health.HistoryWindow == 0 {
		c.Health.HistoryWindow = 50
	}
	if c.Workflow.MaxSteps == 0 {
		c.Workflow.MaxSteps = 200
	}
	if c.Workflow.MaxWorkflow == 0 {
		c.Workflow.MaxWorkflow = 1000
	}
	if c.Execution.MaxConcurrentRuns == 0 {
		c.Execution.MaxConcurrentRuns = 50
	}
	if c.Execution.MaxConcurrentSteps == 0 {
		c.Execution.MaxConcurrentSteps = 10
	}
	if c.Execution.DefaultStepTimeoutS == 0 {
		c.Execution.DefaultStepTimeoutS = 60
	}
	if c.Execution.IdempotencyTTLSec == 0 {
		c.Execution.IdempotencyTTLSec = 86400
	}
	if c.Approval.DefaultTimeoutSec == 0 {
		c.Approval.DefaultTimeoutSec = 3600
	}
	if c.Approval.EscalationNoticeS == 0 {
		c.Approval.EscalationNoticeS = 300
	}
	if c.Trigger.CronResolutionSec == 0 {
		c.Trigger.CronResolutionSec = 1
	}
	if c.Trigger.WebhookSecretEnv == "" {
		c.Trigger.WebhookSecretEnv = "NCHAT_WEBHOOK_SECRET"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 64
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 365
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}
