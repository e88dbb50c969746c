// Package config loads the storage engine's tunables (page size,
// buffer pool size, replacer K, data directory) from a YAML file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the knobs the storage core needs at startup. Defaults
// match the constants named in the external interfaces: PageSize 4096,
// BufferPoolSize 1000.
type Config struct {
	PageSize       int    `mapstructure:"page_size"`
	BufferPoolSize int    `mapstructure:"buffer_pool_size"`
	ReplacerK      int    `mapstructure:"replacer_k"`
	DataDir        string `mapstructure:"data_dir"`
}

// Default returns the engine's baseline configuration.
func Default() Config {
	return Config{
		PageSize:       4096,
		BufferPoolSize: 1000,
		ReplacerK:      2,
		DataDir:        "data",
	}
}

// LoadConfig reads a YAML file at path, overlaying its values on
// Default() so a partial file only needs to name what it overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("page_size", cfg.PageSize)
	v.SetDefault("buffer_pool_size", cfg.BufferPoolSize)
	v.SetDefault("replacer_k", cfg.ReplacerK)
	v.SetDefault("data_dir", cfg.DataDir)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}
