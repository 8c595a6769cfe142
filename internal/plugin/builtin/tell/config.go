package tell

import (
	"fmt"
	"strings"
	"time"

	"tellbot/internal/config"
	"tellbot/internal/relay"
	"tellbot/internal/scheduler"
	"tellbot/internal/storage"
)

// Config is the plugins.tell.config section.
//
//	commands: ["tell", "remind"]   # or "tell,remind"
//	max_messages: 10               # <= 0 disables the bound
//	retention: { max_age: "720h", sweep: "@hourly" }
type Config struct {
	Commands    relay.Aliases   `json:"commands,omitempty"`
	MaxMessages *int            `json:"max_messages,omitempty"`
	SuccessText string          `json:"success_text,omitempty"`
	FullText    string          `json:"full_text,omitempty"`
	TimeFormat  string          `json:"time_format,omitempty"`
	Timezone    string          `json:"timezone,omitempty"`
	Retention   RetentionConfig `json:"retention,omitempty"`
}

// RetentionConfig drops undelivered messages older than MaxAge. An empty
// MaxAge keeps messages forever.
type RetentionConfig struct {
	MaxAge string `json:"max_age,omitempty"`
	Sweep  string `json:"sweep,omitempty"`
}

const defaultSweep = "@hourly"

type settings struct {
	relay  relay.Options
	maxAge time.Duration
	sweep  string
}

func resolve(c Config) (settings, error) {
	var s settings
	maxMessages := storage.DefaultMaxMessages
	if c.MaxMessages != nil {
		maxMessages = *c.MaxMessages
	}
	s.relay = relay.Options{
		Commands:           c.Commands,
		MaxMessages:        &maxMessages,
		SuccessText:        c.SuccessText,
		FullText:           c.FullText,
		TimeFormat:         c.TimeFormat,
		NormalizeRecipient: normalizeRecipient,
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, fmt.Errorf("timezone: %w", err)
		}
		s.relay.Location = loc
	}

	maxAge, err := config.ParseDurationField("retention.max_age", c.Retention.MaxAge)
	if err != nil {
		return s, err
	}
	s.maxAge = maxAge
	if maxAge > 0 {
		sweep := strings.TrimSpace(c.Retention.Sweep)
		if sweep == "" {
			sweep = defaultSweep
		}
		if s.sweep, err = scheduler.NormalizeSpec(sweep); err != nil {
			return s, fmt.Errorf("retention.sweep: %w", err)
		}
	}
	return s, nil
}

// normalizeRecipient accepts "@bob" for "bob".
func normalizeRecipient(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
