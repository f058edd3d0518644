package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"flight_fence/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "FLIGHT_FENCE"
	configPathEnv = "FLIGHT_FENCE_CONFIG_PATH"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the service
type Config struct {
	Feed          FeedConfig
	Region        models.Region
	SnapshotCap   int
	PollInterval  time.Duration
	FallbackLimit int
	PersistLive   bool
	Storage       StorageConfig
	HTTP          HTTPConfig
	Log           LogConfig
}

// FeedConfig holds upstream feed settings
type FeedConfig struct {
	URL                  string
	Timeout              time.Duration
	MaxRequestsPerMinute int
	ServerSideBBox       bool
}

// StorageConfig holds storage connection parameters
type StorageConfig struct {
	Driver         string
	SQLitePath     string
	PostgresDSN    string
	ConnectRetries int
	ConnectDelay   time.Duration
}

// HTTPConfig holds read endpoint settings
type HTTPConfig struct {
	Addr string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from a .env file, the config file and
// environment variables
func Load() (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("feed.url", "https://opensky-network.org/api/states/all")
	v.SetDefault("feed.timeout_seconds", 10)
	v.SetDefault("feed.max_requests_per_minute", 0)
	v.SetDefault("feed.server_side_bbox", false)
	v.SetDefault("region.min_lat", 6.0)
	v.SetDefault("region.max_lat", 38.0)
	v.SetDefault("region.min_lon", 68.0)
	v.SetDefault("region.max_lon", 97.0)
	v.SetDefault("snapshot_cap", 20)
	v.SetDefault("poll_interval_seconds", 60)
	v.SetDefault("fallback_limit", 20)
	v.SetDefault("query.persist_live", false)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "aircraft_data.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.connect_attempts", 10)
	v.SetDefault("storage.connect_delay_seconds", 2)
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Set config file name and type
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Set config file search paths
	v.AddConfigPath("/etc/flight_fence")
	v.AddConfigPath(".")

	// Check for config file path from environment variable
	if configPath := os.Getenv(configPathEnv); configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file (if it exists)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults + env vars
	}

	// Set environment variable prefix
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		Feed: FeedConfig{
			URL:                  v.GetString("feed.url"),
			Timeout:              time.Duration(v.GetInt("feed.timeout_seconds")) * time.Second,
			MaxRequestsPerMinute: v.GetInt("feed.max_requests_per_minute"),
			ServerSideBBox:       v.GetBool("feed.server_side_bbox"),
		},
		Region: models.Region{
			MinLat: v.GetFloat64("region.min_lat"),
			MaxLat: v.GetFloat64("region.max_lat"),
			MinLon: v.GetFloat64("region.min_lon"),
			MaxLon: v.GetFloat64("region.max_lon"),
		},
		SnapshotCap:   v.GetInt("snapshot_cap"),
		PollInterval:  time.Duration(v.GetInt("poll_interval_seconds")) * time.Second,
		FallbackLimit: v.GetInt("fallback_limit"),
		PersistLive:   v.GetBool("query.persist_live"),
		Storage: StorageConfig{
			Driver:         strings.ToLower(v.GetString("storage.driver")),
			SQLitePath:     v.GetString("storage.sqlite_path"),
			PostgresDSN:    v.GetString("storage.postgres_dsn"),
			ConnectRetries: v.GetInt("storage.connect_attempts"),
			ConnectDelay:   time.Duration(v.GetInt("storage.connect_delay_seconds")) * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate validates the configuration values
func validate(cfg *Config) error {
	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if cfg.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout_seconds must be greater than 0")
	}

	if cfg.Feed.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("feed.max_requests_per_minute must not be negative")
	}

	if err := cfg.Region.Validate(); err != nil {
		return fmt.Errorf("region: %w", err)
	}

	if cfg.SnapshotCap <= 0 {
		return fmt.Errorf("snapshot_cap must be greater than 0")
	}

	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval_seconds must be greater than 0")
	}

	if cfg.FallbackLimit <= 0 {
		return fmt.Errorf("fallback_limit must be greater than 0")
	}

	switch cfg.Storage.Driver {
	case DriverSQLite:
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (must be sqlite or postgres)", cfg.Storage.Driver)
	}

	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}
