package config

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	logx "tellbot/pkg/logx"
)

// Change summarizes a reload. Fields never include secrets.
type Change struct {
	Sections []string
	Fields   []logx.Field
	Plugins  []string
	// Restart lists changed keys that only apply after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot != nt {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Fields = append(ch.Fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.public_notices", nt.PublicNotices),
		)
		if ot.Token != nt.Token {
			ch.Restart = append(ch.Restart, "telegram.token")
		}
		if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
			ch.Restart = append(ch.Restart, "telegram.poll_timeout")
		}
		if ot.NoticeRatePerSec != nt.NoticeRatePerSec {
			ch.Restart = append(ch.Restart, "telegram.notice_rate_per_sec")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Fields = append(ch.Fields, logx.String("storage.driver", newCfg.Storage.Driver))
		ch.Restart = append(ch.Restart, "storage")
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Fields = append(ch.Fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		ch.Sections = append(ch.Sections, "dispatch")
		ch.Fields = append(ch.Fields, logx.String("dispatch.handler_timeout", newCfg.Dispatch.HandlerTimeout))
		if oldCfg.Dispatch.QueueSize != newCfg.Dispatch.QueueSize {
			ch.Restart = append(ch.Restart, "dispatch.queue_size")
		}
	}

	names := map[string]struct{}{}
	for n := range oldCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range newCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range names {
		o, n2 := oldCfg.Plugins[n], newCfg.Plugins[n]
		if o.Enabled != n2.Enabled || !bytes.Equal(compactJSON(o.Config), compactJSON(n2.Config)) {
			ch.Plugins = append(ch.Plugins, n)
		}
	}
	if len(ch.Plugins) > 0 {
		sort.Strings(ch.Plugins)
		ch.Sections = append(ch.Sections, "plugins")
		ch.Fields = append(ch.Fields, logx.Strs("plugins.changed", ch.Plugins))
	}
	return ch
}

func compactJSON(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var out bytes.Buffer
	if err := json.Compact(&out, b); err != nil {
		return b
	}
	return out.Bytes()
}
