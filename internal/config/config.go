package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all celltrack configuration
type Config struct {
	Lab      LabConfig      `yaml:"lab"`
	Database DatabaseConfig `yaml:"database"`
	Blob     BlobConfig     `yaml:"blob"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
}

// LabConfig describes the cycler hardware
type LabConfig struct {
	Channels int `yaml:"channels"` // number of cycler channels, 8 on the bench
}

// DatabaseConfig configures the relational store
type DatabaseConfig struct {
	Driver         string `yaml:"driver"` // sqlite, postgres
	Path           string `yaml:"path"`   // sqlite file
	DSN            string `yaml:"dsn"`    // postgres connection string
	AcquireTimeout string `yaml:"acquire_timeout"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
}

// BlobConfig configures attachment storage
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs, s3, memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the S3 / MinIO attachment driver
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`

	// Static credentials, mostly for MinIO. Empty means the AWS default chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`   // empty means stderr
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	MaxConns        int    `yaml:"max_conns"` // 0 means unlimited
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// HomeDir returns ~/.celltrack
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".celltrack"
	}
	return filepath.Join(home, ".celltrack")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home := HomeDir()
	return &Config{
		Lab: LabConfig{
			Channels: 8,
		},
		Database: DatabaseConfig{
			Driver:         DriverSQLite,
			Path:           filepath.Join(home, "celltrack.db"),
			AcquireTimeout: "5s",
			MaxOpenConns:   10,
		},
		Blob: BlobConfig{
			Driver: "fs",
			FSRoot: filepath.Join(home, "media"),
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployments override the file without editing it
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CELLTRACK_CHANNELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Lab.Channels = n
		}
	}
	if v := os.Getenv("CELLTRACK_DB_DRIVER"); v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("CELLTRACK_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CELLTRACK_DB_DSN"); v != "" {
		c.Database.DSN = v
		if os.Getenv("CELLTRACK_DB_DRIVER") == "" {
			c.Database.Driver = DriverPostgres
		}
	}
	if v := os.Getenv("CELLTRACK_BLOB_DRIVER"); v != "" {
		c.Blob.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("CELLTRACK_BLOB_FS_ROOT"); v != "" {
		c.Blob.FSRoot = v
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_BUCKET"); v != "" {
		c.Blob.S3.Bucket = v
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_REGION"); v != "" {
		c.Blob.S3.Region = v
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_ENDPOINT"); v != "" {
		c.Blob.S3.Endpoint = v
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_PATH_STYLE"); v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_ACCESS_KEY_ID"); v != "" {
		c.Blob.S3.AccessKeyID = v
	}
	if v := os.Getenv("CELLTRACK_BLOB_S3_SECRET_ACCESS_KEY"); v != "" {
		c.Blob.S3.SecretAccessKey = v
	}
	if v := os.Getenv("CELLTRACK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CELLTRACK_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate checks the configuration for values the store cannot work with
func (c *Config) Validate() error {
	if c.Lab.Channels < 1 {
		return fmt.Errorf("lab.channels must be at least 1, got %d", c.Lab.Channels)
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if _, err := time.ParseDuration(c.Database.AcquireTimeout); err != nil {
		return fmt.Errorf("invalid database.acquire_timeout: %w", err)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative, got %d", c.Server.MaxConns)
	}
	return nil
}

// GetAcquireTimeout returns the per-operation store timeout
func (c *Config) GetAcquireTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.AcquireTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the HTTP graceful shutdown window
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
