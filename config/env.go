package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPostgresHost     = "LCDB_POSTGRES_HOST"
	EnvPostgresPort     = "LCDB_POSTGRES_PORT"
	EnvPostgresDatabase = "LCDB_POSTGRES_DB"
	EnvPostgresUser     = "LCDB_POSTGRES_USER"
	EnvPostgresPassword = "LCDB_POSTGRES_PASSWORD"
	EnvPostgresSSLMode  = "LCDB_POSTGRES_SSLMODE"
	EnvPostgresMaxConns = "LCDB_POSTGRES_MAX_CONNS"
)

var (
	ErrInvalidDatabaseConfig = errors.New("invalid database config")
)

// DatabaseConfig describes how to reach the lightcurve database. It is read
// from an optional YAML file and then overridden by LCDB_POSTGRES_* variables.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		c.Host = DefaultPostgresHost
	}
	if c.Port == 0 {
		c.Port = DefaultPostgresPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDatabaseConfig, c.Port)
	}
	if c.Database == "" {
		c.Database = DefaultPostgresDatabase
	}
	if c.Username == "" {
		c.Username = DefaultPostgresUser
	}
	if c.SSLMode == "" {
		c.SSLMode = DefaultPostgresSSLMode
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultPostgresMaxConns
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("%w: max conns must be > 0", ErrInvalidDatabaseConfig)
	}
	return nil
}

// ConnString renders the config as a postgres:// URL understood by pgx.
func (c *DatabaseConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	} else {
		u.User = url.User(c.Username)
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the connection string with the password masked.
func (c *DatabaseConfig) Redacted() string {
	cp := *c
	if cp.Password != "" {
		cp.Password = "xxxxx"
	}
	return cp.ConnString()
}

// LoadDatabaseConfig loads a .env file from the working directory (if any),
// then the YAML file at path (if non-empty), then applies environment
// overrides and validates.
func LoadDatabaseConfig(path string) (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := &DatabaseConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read database config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse database config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *DatabaseConfig) applyEnv() error {
	if v := os.Getenv(EnvPostgresHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvPostgresPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: invalid %s=%q: %v", ErrInvalidDatabaseConfig, EnvPostgresPort, v, err)
		}
		c.Port = port
	}
	if v := os.Getenv(EnvPostgresDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvPostgresUser); v != "" {
		c.Username = v
	}
	if v := os.Getenv(EnvPostgresPassword); v != "" {
		c.Password = v
	}
	if v := os.Getenv(EnvPostgresSSLMode); v != "" {
		c.SSLMode = v
	}
	if v := os.Getenv(EnvPostgresMaxConns); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid %s=%q: %v", ErrInvalidDatabaseConfig, EnvPostgresMaxConns, v, err)
		}
		c.MaxConns = int32(n)
	}
	return nil
}
