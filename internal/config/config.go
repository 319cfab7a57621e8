// Package config loads satchel configuration from a config file,
// environment variables, and flags, in that order of increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Storage configures the local store.
type Storage struct {
	// Backend is a registered local store kind, "file" or "badger".
	Backend string `mapstructure:"backend"`
	// Dir is the data directory. Empty means ~/.satchel.
	Dir string `mapstructure:"dir"`
	// MaxBytes caps the serialized collection size. Zero means no cap.
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// Server configures the document store server.
type Server struct {
	Addr    string `mapstructure:"addr"`
	DBPath  string `mapstructure:"db_path"`
	LogFile string `mapstructure:"log_file"`
}

// Remote configures the client side of the document store.
type Remote struct {
	URL   string `mapstructure:"url"`
	Owner string `mapstructure:"owner"`
}

// Config is the full satchel configuration.
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Server  Server  `mapstructure:"server"`
	Remote  Remote  `mapstructure:"remote"`
}

// DefaultDir returns the default data directory, ~/.satchel.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".satchel"
	}
	return filepath.Join(home, ".satchel")
}

// Load reads configuration from the given file (optional), then from
// SATCHEL_* environment variables. Missing config files are fine;
// malformed ones are not.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", DefaultDir())
	v.SetDefault("server.addr", "127.0.0.1:7777")
	v.SetDefault("server.db_path", filepath.Join(DefaultDir(), "satchel.db"))
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.owner", "")

	v.SetEnvPrefix("SATCHEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
