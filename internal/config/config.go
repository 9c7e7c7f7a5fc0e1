// Package config loads memengine configuration from files, environment and
// flags using viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opencode-ai/memengine/internal/logging"
)

// EnvPrefix is the prefix for environment variable overrides
// (MEMENGINE_ENGINE_CHUNK_SIZE and so on).
const EnvPrefix = "MEMENGINE"

// Config is the root configuration.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Sequences  SequencesConfig  `mapstructure:"sequences"`
}

// EngineConfig tunes the memory engine.
type EngineConfig struct {
	// ChunkSize bounds a single transfer against the device.
	ChunkSize int `mapstructure:"chunk_size"`

	// RefreshEnabled turns the background value refresher on.
	RefreshEnabled bool `mapstructure:"refresh_enabled"`

	// RefreshInterval is the refresher tick period.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// AcquireTimeout bounds how long ad-hoc commands wait for the busy lock.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// ConnectionConfig selects and configures the connection backend.
type ConnectionConfig struct {
	// Type is a registered backend name ("memory" or "remote").
	Type string `mapstructure:"type"`

	// Target is the backend address, e.g. "127.0.0.1:7420" for remote.
	Target string `mapstructure:"target"`

	// LittleEndian selects the simulated device byte order.
	LittleEndian bool `mapstructure:"little_endian"`

	// BaseAddress is where simulated memory starts.
	BaseAddress uint32 `mapstructure:"base_address"`

	// MemorySize is the simulated memory size in bytes.
	MemorySize int `mapstructure:"memory_size"`

	// Timeout bounds a single remote call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig configures run history persistence.
type DatabaseConfig struct {
	// Path is the SQLite file path. Empty disables persistence.
	Path string `mapstructure:"path"`
}

// DaemonConfig configures the memd gRPC service.
type DaemonConfig struct {
	Hostname          string  `mapstructure:"hostname"`
	Port              int     `mapstructure:"port"`
	RateLimitEnabled  bool    `mapstructure:"rate_limit_enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// SequencesConfig configures sequence file discovery.
type SequencesConfig struct {
	// Dirs are extra directories searched before the defaults.
	Dirs []string `mapstructure:"dirs"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "auto",
		},
		Engine: EngineConfig{
			ChunkSize:       0x10000,
			RefreshEnabled:  true,
			RefreshInterval: 250 * time.Millisecond,
			AcquireTimeout:  5 * time.Second,
		},
		Connection: ConnectionConfig{
			Type:         "memory",
			Target:       "127.0.0.1:7420",
			LittleEndian: false,
			BaseAddress:  0x82000000,
			MemorySize:   0x100000,
			Timeout:      5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Daemon: DaemonConfig{
			Hostname:          "127.0.0.1",
			Port:              7420,
			RateLimitEnabled:  true,
			RequestsPerSecond: 200,
			BurstSize:         400,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Engine.ChunkSize <= 0 {
		problems = append(problems, "engine.chunk_size must be greater than 0")
	}
	if c.Engine.RefreshEnabled && c.Engine.RefreshInterval <= 0 {
		problems = append(problems, "engine.refresh_interval must be greater than 0")
	}
	if strings.TrimSpace(c.Connection.Type) == "" {
		problems = append(problems, "connection.type is required")
	}
	if c.Connection.Type == "memory" && c.Connection.MemorySize <= 0 {
		problems = append(problems, "connection.memory_size must be greater than 0")
	}
	if c.Daemon.Port < 0 || c.Daemon.Port > 65535 {
		problems = append(problems, "daemon.port must be between 0 and 65535")
	}
	if c.Daemon.RateLimitEnabled && c.Daemon.RequestsPerSecond <= 0 {
		problems = append(problems, "daemon.requests_per_second must be greater than 0")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from the given file (or the default search
// locations when path is empty), applies MEMENGINE_* environment overrides
// and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := ConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".memengine")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("engine.chunk_size", cfg.Engine.ChunkSize)
	v.SetDefault("engine.refresh_enabled", cfg.Engine.RefreshEnabled)
	v.SetDefault("engine.refresh_interval", cfg.Engine.RefreshInterval)
	v.SetDefault("engine.acquire_timeout", cfg.Engine.AcquireTimeout)

	v.SetDefault("connection.type", cfg.Connection.Type)
	v.SetDefault("connection.target", cfg.Connection.Target)
	v.SetDefault("connection.little_endian", cfg.Connection.LittleEndian)
	v.SetDefault("connection.base_address", cfg.Connection.BaseAddress)
	v.SetDefault("connection.memory_size", cfg.Connection.MemorySize)
	v.SetDefault("connection.timeout", cfg.Connection.Timeout)

	v.SetDefault("database.path", cfg.Database.Path)

	v.SetDefault("daemon.hostname", cfg.Daemon.Hostname)
	v.SetDefault("daemon.port", cfg.Daemon.Port)
	v.SetDefault("daemon.rate_limit_enabled", cfg.Daemon.RateLimitEnabled)
	v.SetDefault("daemon.requests_per_second", cfg.Daemon.RequestsPerSecond)
	v.SetDefault("daemon.burst_size", cfg.Daemon.BurstSize)

	v.SetDefault("sequences.dirs", cfg.Sequences.Dirs)
}

// ConfigDir returns the user configuration directory for memengine.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, "memengine")
}

func defaultDatabasePath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "memengine.db")
}
