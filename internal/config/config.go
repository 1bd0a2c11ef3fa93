// Package config loads the agent configuration.
// Priority: defaults < config file < environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vincentbai/regrets-agent/internal/agent"
	"github.com/vincentbai/regrets-agent/internal/batching"
	"github.com/vincentbai/regrets-agent/internal/logger"
	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

const (
	DefaultAddress = "127.0.0.1:8123"
	databaseFile   = "regrets.db"
)

// Config holds all agent configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Batching BatchingConfig `yaml:"batching"`
	Sender   SenderConfig   `yaml:"sender"`
	Logging  logger.Config  `yaml:"logging"`
	NATS     NATSConfig     `yaml:"nats"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty = platform app data dir
}

type BatchingConfig struct {
	ProcessInterval   time.Duration `yaml:"process_interval"`
	QuiescenceTimeout time.Duration `yaml:"quiescence_timeout"`
}

type SenderConfig struct {
	ThresholdBytes    int `yaml:"threshold_bytes"`
	SafetyMarginBytes int `yaml:"safety_margin_bytes"`
	MaxTrimIterations int `yaml:"max_trim_iterations"`
}

// NATSConfig enables the JetStream sink when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: DefaultAddress},
		Batching: BatchingConfig{
			ProcessInterval:   agent.DefaultProcessInterval,
			QuiescenceTimeout: batching.DefaultQuiescenceTimeout,
		},
		Sender: SenderConfig{
			ThresholdBytes:    telemetry.DefaultThresholdBytes,
			SafetyMarginBytes: telemetry.DefaultSafetyMarginBytes,
			MaxTrimIterations: telemetry.DefaultMaxTrimIterations,
		},
		Logging: logger.DefaultConfig(),
		NATS: NATSConfig{
			Stream:  "REGRETS",
			Subject: "regrets.telemetry",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Address = getEnvOrDefault("REGRETS_ADDRESS", c.Server.Address)
	c.Database.Path = getEnvOrDefault("REGRETS_DATABASE", c.Database.Path)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Debug = getEnvBoolOrDefault("DEBUG", c.Logging.Debug)
	c.NATS.URL = getEnvOrDefault("NATS_URL", c.NATS.URL)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address cannot be empty"))
	}
	if c.Batching.ProcessInterval <= 0 {
		errs = append(errs, fmt.Errorf("batching.process_interval must be positive, got %s", c.Batching.ProcessInterval))
	}
	if c.Batching.QuiescenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("batching.quiescence_timeout must be positive, got %s", c.Batching.QuiescenceTimeout))
	}
	if err := c.SenderConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sender: %w", err))
	}
	if c.NATS.URL != "" && (c.NATS.Stream == "" || c.NATS.Subject == "") {
		errs = append(errs, errors.New("nats.stream and nats.subject are required when nats.url is set"))
	}
	return errors.Join(errs...)
}

func (c *Config) BatchingConfig() batching.Config {
	return batching.Config{QuiescenceTimeout: c.Batching.QuiescenceTimeout}
}

func (c *Config) SenderConfig() telemetry.Config {
	return telemetry.Config{
		ThresholdBytes:    c.Sender.ThresholdBytes,
		SafetyMarginBytes: c.Sender.SafetyMarginBytes,
		MaxTrimIterations: c.Sender.MaxTrimIterations,
	}
}

func (c *Config) AgentConfig() agent.Config {
	return agent.Config{ProcessInterval: c.Batching.ProcessInterval}
}

// DatabasePath is the configured path, or regrets.db in the platform app
// data dir.
func (c *Config) DatabasePath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databaseFile), nil
}

// AppDataDir returns the per user data directory of the agent.
func AppDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "RegretsReporter"), nil
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "RegretsReporter"), nil
	default:
		return filepath.Join(home, ".local", "share", "regrets-reporter"), nil
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	value = strings.ToLower(value)

	return value == "true" || value == "1" || value == "yes" || value == "on"
}
