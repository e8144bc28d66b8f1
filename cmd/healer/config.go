package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/artpar/healer/internal/core/domain"
	"github.com/artpar/healer/internal/core/naming"
	"github.com/artpar/healer/internal/core/validation"
	"github.com/artpar/healer/internal/core/verification"
	"github.com/artpar/healer/internal/shell/ai"
	"github.com/artpar/healer/internal/shell/notify"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Log        LogConfig            `mapstructure:"log"`
	Docker     DockerConfig         `mapstructure:"docker"`
	Healer     HealerConfig         `mapstructure:"healer"`
	Thresholds ThresholdsConfig     `mapstructure:"thresholds"`
	Policy     PolicyConfig         `mapstructure:"policy"`
	AI         ai.Config            `mapstructure:"ai"`
	Notify     notify.WebhookConfig `mapstructure:"notify"`
	Archive    ArchiveConfig        `mapstructure:"archive"`
	Sources    SourcesConfig        `mapstructure:"sources"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIToken protects /api/v1. Empty leaves the API open, which is only
	// sensible when the server listens on loopback.
	APIToken string `mapstructure:"api_token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`

	// File switches output from stdout to a rotated file.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// HealerConfig holds the orchestrator settings. The first four fields seed
// the runtime configuration, which the admin API may change later.
type HealerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	AutoExecute        bool          `mapstructure:"auto_execute"`
	MaxHealingAttempts int           `mapstructure:"max_healing_attempts"`
	MonitoringInterval time.Duration `mapstructure:"monitoring_interval"`

	BatchSize         int           `mapstructure:"batch_size"`
	FaultLevel        string        `mapstructure:"fault_level"`
	StalenessWindow   time.Duration `mapstructure:"staleness_window"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	PostActionDelay   time.Duration `mapstructure:"post_action_delay"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	EvidenceTimeout   time.Duration `mapstructure:"evidence_timeout"`
	HistorySize       int           `mapstructure:"history_size"`
	ContainerPrefix   string        `mapstructure:"container_prefix"`
	NetworkService    string        `mapstructure:"network_service"`
	LogrotateConf     string        `mapstructure:"logrotate_conf"`
	JournalMaxSize    string        `mapstructure:"journal_max_size"`
	VerifyDialHost    string        `mapstructure:"verify_dial_host"`
	VerifyDialTimeout time.Duration `mapstructure:"verify_dial_timeout"`
}

// Runtime returns the runtime-mutable part of the configuration.
func (c HealerConfig) Runtime() domain.HealerConfig {
	return domain.HealerConfig{
		Enabled:            c.Enabled,
		AutoExecute:        c.AutoExecute,
		MaxHealingAttempts: c.MaxHealingAttempts,
		MonitoringInterval: c.MonitoringInterval,
	}
}

// Names returns the container naming convention.
func (c HealerConfig) Names() naming.Convention {
	return naming.NewConvention(c.ContainerPrefix)
}

// ThresholdsConfig holds the resource percentages. Alert thresholds raise
// faults; verify thresholds decide whether a remediation worked.
type ThresholdsConfig struct {
	Alert  verification.Thresholds `mapstructure:"alert"`
	Verify verification.Thresholds `mapstructure:"verify"`
}

// PolicyConfig holds the remediation allow-lists. When File is set, the
// lists it contains replace the inline ones.
type PolicyConfig struct {
	AllowedServices     []string `mapstructure:"allowed_services"`
	AllowedPathPrefixes []string `mapstructure:"allowed_path_prefixes"`
	File                string   `mapstructure:"file"`
}

// ArchiveConfig holds the SQLite attempt archive configuration.
type ArchiveConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

// SourcesConfig selects the built-in fault sources. The API-fed queue is
// always present.
type SourcesConfig struct {
	Containers    bool   `mapstructure:"containers"`
	Resources     bool   `mapstructure:"resources"`
	DiskPath      string `mapstructure:"disk_path"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("HEALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Policy.File != "" {
		policy, err := LoadPolicyFile(cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		cfg.Policy.AllowedServices = policy.AllowedServices
		cfg.Policy.AllowedPathPrefixes = policy.AllowedPathPrefixes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "")

	rt := domain.DefaultHealerConfig()
	v.SetDefault("healer.enabled", rt.Enabled)
	v.SetDefault("healer.auto_execute", rt.AutoExecute)
	v.SetDefault("healer.max_healing_attempts", rt.MaxHealingAttempts)
	v.SetDefault("healer.monitoring_interval", rt.MonitoringInterval)
	v.SetDefault("healer.batch_size", 10)
	v.SetDefault("healer.fault_level", "")
	v.SetDefault("healer.staleness_window", "5m")
	v.SetDefault("healer.rate_window", "1h")
	v.SetDefault("healer.prune_interval", "1h")
	v.SetDefault("healer.post_action_delay", "3s")
	v.SetDefault("healer.action_timeout", "20s")
	v.SetDefault("healer.evidence_timeout", "5s")
	v.SetDefault("healer.history_size", 100)
	v.SetDefault("healer.container_prefix", naming.DefaultContainerPrefix)
	v.SetDefault("healer.network_service", "systemd-networkd")
	v.SetDefault("healer.logrotate_conf", "/etc/logrotate.conf")
	v.SetDefault("healer.journal_max_size", "200M")
	v.SetDefault("healer.verify_dial_host", "127.0.0.1")
	v.SetDefault("healer.verify_dial_timeout", "2s")

	alert, verify := verification.DefaultAlertThresholds(), verification.DefaultThresholds()
	v.SetDefault("thresholds.alert.cpu", alert.CPU)
	v.SetDefault("thresholds.alert.memory", alert.Memory)
	v.SetDefault("thresholds.alert.disk", alert.Disk)
	v.SetDefault("thresholds.verify.cpu", verify.CPU)
	v.SetDefault("thresholds.verify.memory", verify.Memory)
	v.SetDefault("thresholds.verify.disk", verify.Disk)

	policy := validation.DefaultPolicy()
	v.SetDefault("policy.allowed_services", policy.AllowedServices)
	v.SetDefault("policy.allowed_path_prefixes", policy.AllowedPathPrefixes)
	v.SetDefault("policy.file", "")

	guard := ai.DefaultGuard()
	v.SetDefault("ai.provider", ai.ProviderNone)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.timeout", guard.Timeout)
	v.SetDefault("ai.rate_per_minute", guard.RatePerMinute)
	v.SetDefault("ai.burst", guard.Burst)
	v.SetDefault("ai.breaker_max_failures", guard.MaxFailures)
	v.SetDefault("ai.breaker_open_timeout", guard.OpenTimeout)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.format", notify.FormatSlack)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dsn", "./data/healer.db")
	v.SetDefault("archive.retention", "720h")

	v.SetDefault("sources.containers", true)
	v.SetDefault("sources.resources", true)
	v.SetDefault("sources.disk_path", "/")
	v.SetDefault("sources.queue_capacity", 500)
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if field, msg := validation.ValidateHealerConfig(c.Healer.Runtime()); field != "" {
		return fmt.Errorf("invalid healer.%s: %s", field, msg)
	}
	if c.Healer.BatchSize < 1 {
		return fmt.Errorf("invalid healer.batch_size: must be at least 1")
	}
	if c.Healer.HistorySize < 1 {
		return fmt.Errorf("invalid healer.history_size: must be at least 1")
	}
	if c.Healer.FaultLevel != "" {
		if _, err := domain.ParseSeverity(c.Healer.FaultLevel); err != nil {
			return fmt.Errorf("invalid healer.fault_level: %w", err)
		}
	}
	if field, msg := validation.ValidateThresholds(c.Thresholds.Verify, c.Thresholds.Alert); field != "" {
		return fmt.Errorf("invalid %s: %s", field, msg)
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("invalid archive.dsn: required when the archive is enabled")
	}
	return nil
}

// LoadPolicyFile reads an allow-list policy from a YAML file.
func LoadPolicyFile(path string) (validation.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return validation.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	var policy validation.Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return validation.Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return policy, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level, format and output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	out := logOutput(cfg.Log)

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

func logOutput(cfg LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
