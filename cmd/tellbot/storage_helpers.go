package main

import (
	"context"
	"fmt"
	"strings"

	"tellbot/internal/config"
	"tellbot/internal/storage"
	logx "tellbot/pkg/logx"
)

// openSQLite opens the configured database without the instance lock, so the
// operator commands work next to a running bot.
func openSQLite(ctx context.Context, cfg *config.Config, autoCreate bool) (*storage.SQLBackend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver != "sqlite" && driver != "sqlite3" {
		return nil, fmt.Errorf("storage.driver %q keeps no persistent queue; configure sqlite", orDefault(driver, "memory"))
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	return storage.OpenSQLite(ctx, storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		Table:       cfg.Storage.Table,
		BusyTimeout: busy,
		AutoCreate:  autoCreate,
	}, logx.Nop())
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
