package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "telegram": {"token": "t0k", "poll_timeout": "15s", "public_notices": true},
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./data/tell.db", "auto_create": true},
  "scheduler": {"enabled": true, "timezone": "UTC"},
  "dispatch": {"handler_timeout": "5s"},
  "plugins": {"tell": {"enabled": true, "config": {"commands": "tell,remind", "max_messages": 5}}}
}`

const yamlConfig = `
telegram:
  token: t0k
  poll_timeout: 15s
  public_notices: true
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
storage:
  driver: sqlite
  path: ./data/tell.db
  auto_create: true
scheduler:
  enabled: true
  timezone: UTC
dispatch:
  handler_timeout: 5s
plugins:
  tell:
    enabled: true
    config:
      commands: tell,remind
      max_messages: 5
`

const tomlConfig = `
[telegram]
token = "t0k"
poll_timeout = "15s"
public_notices = true

[logging]
level = "debug"
console = true
[logging.file]
enabled = false
path = ""

[storage]
driver = "sqlite"
path = "./data/tell.db"
auto_create = true

[scheduler]
enabled = true
timezone = "UTC"

[dispatch]
handler_timeout = "5s"

[plugins.tell]
enabled = true
[plugins.tell.config]
commands = "tell,remind"
max_messages = 5
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.env = func() (EnvOverrides, error) { return EnvOverrides{}, nil }
	return m
}

func TestLoadFormatsAgree(t *testing.T) {
	var loaded []*Config
	for name, body := range map[string]string{
		"tellbot.json": jsonConfig,
		"tellbot.yaml": yamlConfig,
		"tellbot.toml": tomlConfig,
	} {
		cfg, err := newManager(writeFile(t, name, body)).Load()
		require.NoError(t, err, name)
		loaded = append(loaded, cfg)
	}
	for _, cfg := range loaded {
		assert.Equal(t, "t0k", cfg.Telegram.Token)
		assert.True(t, cfg.Telegram.PublicNotices)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.True(t, cfg.Storage.AutoCreate)
		assert.Equal(t, "UTC", cfg.Scheduler.Timezone)

		p, enabled := cfg.Plugin("tell")
		require.True(t, enabled)
		var tc struct {
			Commands    string `json:"commands"`
			MaxMessages int    `json:"max_messages"`
		}
		require.NoError(t, json.Unmarshal(p.Config, &tc))
		assert.Equal(t, "tell,remind", tc.Commands)
		assert.Equal(t, 5, tc.MaxMessages)
	}
	assert.Equal(t, loaded[0].Telegram, loaded[1].Telegram)
	assert.Equal(t, loaded[1].Storage, loaded[2].Storage)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := newManager(writeFile(t, "c.json", `{"storage": {"driver": "memory", "dsn": "x"}}`)).Parse()
	assert.Error(t, err)

	_, err = newManager(writeFile(t, "c.json", `{"plugins": {"tell": {"enabled": true, "timeout": "1s"}}}`)).Parse()
	assert.Error(t, err)

	_, err = newManager(writeFile(t, "c.json", `{} {}`)).Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"bad duration":   {Telegram: TelegramConfig{PollTimeout: "soon"}},
		"negative rate":  {Telegram: TelegramConfig{NoticeRatePerSec: -1}},
		"unknown driver": {Storage: StorageConfig{Driver: "mongo"}},
		"sqlite no path": {Storage: StorageConfig{Driver: "sqlite"}},
		"bad timeout":    {Dispatch: DispatchConfig{HandlerTimeout: "-1s"}},
		"bad queue":      {Dispatch: DispatchConfig{QueueSize: -1}},
		"bad tz":         {Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
	ok := Config{Storage: StorageConfig{Driver: "memory"}}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, DefaultQueueSize, ok.QueueSize())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELLBOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("TELLBOT_STORAGE_DRIVER", "memory")
	t.Setenv("TELLBOT_LOG_LEVEL", "")

	m := NewConfigManager(writeFile(t, "c.json", jsonConfig))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "TELLBOT_STORAGE_PATH=/tmp/from-dotenv.db\n")
	t.Setenv("TELLBOT_STORAGE_PATH", "")
	require.NoError(t, os.Unsetenv("TELLBOT_STORAGE_PATH"))
	require.NoError(t, LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env"), ""))

	var o EnvOverrides
	require.NoError(t, ParseEnv(&o))
	assert.Equal(t, "/tmp/from-dotenv.db", o.StoragePath)
	assert.False(t, o.Empty())
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	path := writeFile(t, "c.json", `{"logging": {"level": "info"}}`)
	m := newManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)
	assert.Equal(t, "debug", (<-ch).Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "warn"}}`), 0o644))
	_, err = m.Reload(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := newManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "c.yaml", "logging:\n  level: info\n")
	m := newManager(path)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))
		select {
		case cfg := <-ch:
			assert.Equal(t, "error", cfg.Logging.Level)
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "info"},
		Plugins:  map[string]PluginConfigRaw{"tell": {Enabled: true, Config: json.RawMessage(`{"max_messages": 5}`)}},
	}
	same := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Logging:  LoggingConfig{Level: "info"},
		Plugins:  map[string]PluginConfigRaw{"tell": {Enabled: true, Config: json.RawMessage(`{"max_messages":5}`)}},
	}
	assert.True(t, SummarizeConfigChange(oldCfg, same).Empty())

	newCfg := &Config{
		Telegram: TelegramConfig{Token: "b"},
		Logging:  LoggingConfig{Level: "debug"},
		Storage:  StorageConfig{Driver: "sqlite", Path: "x.db"},
		Plugins:  map[string]PluginConfigRaw{"tell": {Enabled: true, Config: json.RawMessage(`{"max_messages": 7}`)}},
	}
	ch := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"telegram", "logging", "storage", "plugins"}, ch.Sections)
	assert.Equal(t, []string{"tell"}, ch.Plugins)
	assert.Equal(t, []string{"telegram.token", "storage"}, ch.Restart)
}
