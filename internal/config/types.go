package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig             `json:"telegram"`
	Logging   LoggingConfig              `json:"logging"`
	Storage   StorageConfig              `json:"storage"`
	Scheduler SchedulerConfig            `json:"scheduler"`
	Dispatch  DispatchConfig             `json:"dispatch"`
	Plugins   map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// PublicNotices posts a user's notices in the group the event came from
	// instead of their private chat.
	PublicNotices    bool    `json:"public_notices,omitempty"`
	NoticeRatePerSec float64 `json:"notice_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the message backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/tell.db", "auto_create": true }
//
// driver "" or "memory" keeps messages in process memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	Table       string `json:"table,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	AutoCreate  bool   `json:"auto_create,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	// HandlerTimeout bounds one handler call. Default 10s, "0s" keeps the default.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON rejects unknown keys so typos surface on reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type raw PluginConfigRaw
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t raw
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw(t)
	return nil
}

const (
	DefaultQueueSize   = 256
	DefaultPollTimeout = 10 * time.Second
)

// Validate checks durations and enums. It does not touch the filesystem.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Telegram.NoticeRatePerSec < 0 {
		return fmt.Errorf("telegram.notice_rate_per_sec: must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.handler_timeout", c.Dispatch.HandlerTimeout); err != nil {
		return err
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size: must be >= 0")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) QueueSize() int {
	if c.Dispatch.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.Dispatch.QueueSize
}

// Plugin returns the raw section for name and whether it is enabled.
func (c *Config) Plugin(name string) (PluginConfigRaw, bool) {
	p, ok := c.Plugins[name]
	return p, ok && p.Enabled
}

// ParseDurationField parses a Go duration string; "" is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for "" and "0s".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
