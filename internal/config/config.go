package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	CRM        CRMConfig        `yaml:"crm"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type CRMConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	APIExtra string        `yaml:"api_extra"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SyncConfig drives the retry scheduler and the fallback queue.
type SyncConfig struct {
	HealthInterval     time.Duration `yaml:"health_interval"`
	DrainInterval      time.Duration `yaml:"drain_interval"`
	FullResyncInterval time.Duration `yaml:"full_resync_interval"`
	BatchSize          int           `yaml:"batch_size"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RateRPS            float64       `yaml:"rate_rps"`
	RateBurst          int           `yaml:"rate_burst"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the .env file (when present), then the YAML config with
// environment variable substitution, applies defaults and validates.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.CRM.BaseURL == "" {
		return errors.New("crm base_url is required")
	}
	if c.Sync.BatchSize < 0 {
		return errors.New("sync batch_size must not be negative")
	}
	if c.Sync.MaxAttempts < 0 {
		return errors.New("sync max_attempts must not be negative")
	}
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api_keys configured")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "crmbridge"
	}
	if c.CRM.Timeout == 0 {
		c.CRM.Timeout = 10 * time.Second
	}
	if c.Sync.HealthInterval == 0 {
		c.Sync.HealthInterval = 30 * time.Second
	}
	if c.Sync.DrainInterval == 0 {
		c.Sync.DrainInterval = time.Minute
	}
	if c.Sync.FullResyncInterval == 0 {
		c.Sync.FullResyncInterval = 6 * time.Hour
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 50
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 10
	}
	if c.Sync.RateRPS == 0 {
		c.Sync.RateRPS = 10
	}
	if c.Sync.RateBurst == 0 {
		c.Sync.RateBurst = 5
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
