package app

import (
	"strings"
	"time"

	"tellbot/internal/config"
	"tellbot/internal/dispatch"
	"tellbot/internal/scheduler"
	"tellbot/internal/storage"
	"tellbot/internal/transport/telegram"
	logx "tellbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig always requests the file lock: two bots sharing a sqlite
// file would both deliver the same queue.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		Table:       strings.TrimSpace(sc.Table),
		BusyTimeout: busy,
		AutoCreate:  sc.AutoCreate,
		Lock:        true,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		NoticeRate:  cfg.Telegram.NoticeRatePerSec,
	}, nil
}

func mapDispatchOptions(cfg *config.Config) (dispatch.Options, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.handler_timeout", cfg.Dispatch.HandlerTimeout, dispatch.DefaultTimeout)
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{Timeout: timeout, PublicNotices: cfg.Telegram.PublicNotices}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}
