// Package config loads Sekimori's runtime configuration.
//
// Configuration comes from an optional YAML file plus environment
// variables; the environment always wins.  This keeps container
// deployments (env only) and local development (file) on the same code
// path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Sekimori/common/environment"
)

// OracleConfig configures the risk oracle's upstream endpoint.
type OracleConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// MatrixConfig configures the optional operator-room notifier.  All four
// fields must be set for Matrix to be enabled.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	Room        string `yaml:"room"`
}

// Enabled reports whether the Matrix notifier should be started.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != "" && m.Room != ""
}

// Config is the full Sekimori runtime configuration.
type Config struct {
	// HTTPAddr is the listen address for the API server.
	HTTPAddr string `yaml:"http_addr"`
	// DatabasePath is the SQLite ledger file.
	DatabasePath string `yaml:"database_path"`
	// SweepInterval spaces the periodic expiry sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// EventBuffer sizes per-subscriber event queues.
	EventBuffer int `yaml:"event_buffer"`

	Oracle OracleConfig `yaml:"oracle"`
	Matrix MatrixConfig `yaml:"matrix"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := &Config{
		HTTPAddr:      ":8764",
		DatabasePath:  "./sekimori.db",
		SweepInterval: time.Minute,
		EventBuffer:   16,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = environment.StringOr("SEKIMORI_HTTP_ADDR", c.HTTPAddr)
	c.DatabasePath = environment.StringOr("SEKIMORI_DATABASE_PATH", c.DatabasePath)
	c.SweepInterval = environment.DurationOr("SEKIMORI_SWEEP_INTERVAL", c.SweepInterval)
	c.EventBuffer = environment.IntOr("SEKIMORI_EVENT_BUFFER", c.EventBuffer)

	c.Oracle.APIKey = environment.StringOr("SEKIMORI_ORACLE_API_KEY", c.Oracle.APIKey)
	c.Oracle.BaseURL = environment.StringOr("SEKIMORI_ORACLE_BASE_URL", c.Oracle.BaseURL)
	c.Oracle.Model = environment.StringOr("SEKIMORI_ORACLE_MODEL", c.Oracle.Model)
	c.Oracle.Timeout = environment.DurationOr("SEKIMORI_ORACLE_TIMEOUT", c.Oracle.Timeout)

	c.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)
	c.Matrix.Room = environment.StringOr("MATRIX_ROOM", c.Matrix.Room)
}

// Validate checks the configuration for problems that would only surface
// later as confusing runtime failures.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle api_key is required (SEKIMORI_ORACLE_API_KEY)")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.Matrix != (MatrixConfig{}) && !c.Matrix.Enabled() {
		return fmt.Errorf("matrix configuration is partial: homeserver, user_id, access_token and room are all required")
	}
	return nil
}
