package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvOverrides are applied on top of the file. Empty values are ignored.
type EnvOverrides struct {
	TelegramToken string `env:"TELLBOT_TELEGRAM_TOKEN"`
	LogLevel      string `env:"TELLBOT_LOG_LEVEL"`
	StorageDriver string `env:"TELLBOT_STORAGE_DRIVER"`
	StoragePath   string `env:"TELLBOT_STORAGE_PATH"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (o EnvOverrides) Apply(cfg *Config) {
	if v := strings.TrimSpace(o.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.StorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(o.StoragePath); v != "" {
		cfg.Storage.Path = v
	}
}

// Empty reports whether no override is set.
func (o EnvOverrides) Empty() bool { return o == EnvOverrides{} }
