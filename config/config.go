// Package config loads engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the full engine configuration.
type Config struct {
	MaxBatchOperations int           `yaml:"max_batch_operations"`
	MaxUndoDepth       int           `yaml:"max_undo_depth"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
	Storage            StorageConfig `yaml:"storage"`
}

// StorageConfig selects and configures the snapshot save hook.
type StorageConfig struct {
	Backend    string      `yaml:"backend"`
	SQLitePath string      `yaml:"sqlite_path"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		MaxBatchOperations: 1000,
		MaxUndoDepth:       100,
		EventBufferSize:    100,
		Storage: StorageConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
