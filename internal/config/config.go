// Package config loads runtime startup configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort       = 2333
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "chainpass"
	defaultDBCharset  = "utf8mb4"
	defaultRedisURL   = "redis://localhost:6379/0"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int              `yaml:"port"`
	Env            string           `yaml:"env"` // "development" | "production"
	Database       DatabaseConfig   `yaml:"database"`
	RedisURL       string           `yaml:"redis_url"`
	JWTSecret      string           `yaml:"jwt_secret"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Attendance     AttendanceConfig `yaml:"attendance"`
}

// DatabaseConfig describes the MySQL connection. An explicit DSN wins over
// the individual fields.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

// AttendanceConfig carries the domain tunables. Zero values fall back to
// the documented defaults.
type AttendanceConfig struct {
	ChainTokenTTLSeconds    int `yaml:"chain_token_ttl_seconds"`
	RotationIntervalSeconds int `yaml:"rotation_interval_seconds"`
	RotatingTTLSeconds      int `yaml:"rotating_ttl_seconds"`
	StallThresholdSeconds   int `yaml:"stall_threshold_seconds"`
	SessionTokenTTLSeconds  int `yaml:"session_token_ttl_seconds"`
	LateCutoffMinutes       int `yaml:"late_cutoff_minutes"`
	ExitWindowMinutes       int `yaml:"exit_window_minutes"`
	RateLimitWindowSeconds  int `yaml:"rate_limit_window_seconds"`
	RateLimitMaxAttempts    int `yaml:"rate_limit_max_attempts"`
}

// Load reads the YAML config at path. A missing file yields the defaults so
// local development works with zero setup.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = defaultEnv
	}
	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	d := &c.Database
	if d.Host == "" {
		d.Host = defaultDBHost
	}
	if d.Port == 0 {
		d.Port = defaultDBPort
	}
	if d.User == "" {
		d.User = defaultDBUser
	}
	if d.Password == "" {
		d.Password = defaultDBPassword
	}
	if d.Name == "" {
		d.Name = defaultDBName
	}
	if d.Charset == "" {
		d.Charset = defaultDBCharset
	}

	a := &c.Attendance
	if a.ChainTokenTTLSeconds == 0 {
		a.ChainTokenTTLSeconds = 20
	}
	if a.RotationIntervalSeconds == 0 {
		a.RotationIntervalSeconds = 60
	}
	if a.RotatingTTLSeconds == 0 {
		a.RotatingTTLSeconds = 90
	}
	if a.StallThresholdSeconds == 0 {
		a.StallThresholdSeconds = 120
	}
	if a.SessionTokenTTLSeconds == 0 {
		a.SessionTokenTTLSeconds = 600
	}
	if a.LateCutoffMinutes == 0 {
		a.LateCutoffMinutes = 15
	}
	if a.ExitWindowMinutes == 0 {
		a.ExitWindowMinutes = 10
	}
	if a.RateLimitWindowSeconds == 0 {
		a.RateLimitWindowSeconds = 60
	}
	if a.RateLimitMaxAttempts == 0 {
		a.RateLimitMaxAttempts = 10
	}
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "development")
}

// DSN returns the MySQL connection string.
func (c *AppConfig) DSN() string {
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn
	}
	d := c.Database
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name, d.Charset)
}
