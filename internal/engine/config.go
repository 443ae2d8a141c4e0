package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"secrange/pkg/utils/logger"
)

const (
	defaultCatalogPath    = "challenges/definitions/challenges.json"
	defaultSweepInterval  = 60 * time.Second
	defaultSessionTTL     = time.Hour
	defaultStartupTimeout = 30 * time.Second
	defaultMaxPerUser     = 5

	// FlagSecretEnv overrides the configured flag secret.
	FlagSecretEnv = "FLAG_SECRET_KEY"
)

// Duration is a yaml-friendly time.Duration accepting "30m" style strings
// as well as plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	if ns, err := strconv.ParseInt(text, 10, 64); err == nil {
		*d = Duration(ns)
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CatalogConfig holds catalog file locations.
type CatalogConfig struct {
	Path         string `yaml:"path"`
	ImportedPath string `yaml:"importedPath"`
}

// FlagConfig holds flag engine settings.
type FlagConfig struct {
	SecretKey string `yaml:"secretKey"`
}

// OrchestratorConfig holds container lifecycle settings.
type OrchestratorConfig struct {
	SessionTTL         Duration `yaml:"sessionTTL"`
	StartupTimeout     Duration `yaml:"startupTimeout"`
	HealthPollInterval Duration `yaml:"healthPollInterval"`
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	MaxPerUser    int      `yaml:"maxPerUser"`
	SweepInterval Duration `yaml:"sweepInterval"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Interval         Duration `yaml:"interval"`
	FailureThreshold int      `yaml:"failureThreshold"`
	MaxRecoveries    int      `yaml:"maxRecoveries"`
}

// Config is the full engine configuration.
type Config struct {
	Logger       logger.Config      `yaml:"logger"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Flag         FlagConfig         `yaml:"flag"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Session      SessionConfig      `yaml:"session"`
	Health       HealthConfig       `yaml:"health"`
}

// LoadConfig reads a YAML config file and applies defaults. FLAG_SECRET_KEY
// in the environment overrides the configured secret.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	if secret := os.Getenv(FlagSecretEnv); secret != "" {
		cfg.Flag.SecretKey = secret
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = defaultCatalogPath
	}
	if cfg.Orchestrator.SessionTTL <= 0 {
		cfg.Orchestrator.SessionTTL = Duration(defaultSessionTTL)
	}
	if cfg.Orchestrator.StartupTimeout <= 0 {
		cfg.Orchestrator.StartupTimeout = Duration(defaultStartupTimeout)
	}
	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = Duration(defaultSweepInterval)
	}
	if cfg.Session.MaxPerUser == 0 {
		cfg.Session.MaxPerUser = defaultMaxPerUser
	}
	if cfg.Session.MaxPerUser < 0 {
		cfg.Session.MaxPerUser = 0 // explicit negative disables the cap
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = Duration(30 * time.Second)
	}
	if cfg.Health.FailureThreshold <= 0 {
		cfg.Health.FailureThreshold = 3
	}
}
