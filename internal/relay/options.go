package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCommand     = "tell"
	DefaultSuccessText = "Ok, I'll tell him/her."
	DefaultFullText    = "Sry, There's so many things to tell him/her."
	// DefaultTimeFormat renders as "03/14 09:05pm".
	DefaultTimeFormat = "01/02 03:04pm"

	invalidText     = "Can't identify nickname or message."
	descriptionText = "Stores a <message> to be send next time the <nickname> is seen."
)

// Options configures New. The zero value gives an in-memory relay answering to
// "tell" with a bound of 10 messages per recipient.
type Options struct {
	// Database selects storage: nil for memory, a *sql.DB for the sql backend,
	// or a ready storage.Backend. Anything else is a *ConfigError.
	Database any
	// CreateDatabase provisions the table when Database is a *sql.DB.
	CreateDatabase bool
	// Table overrides the sql table name.
	Table string

	Commands    Aliases
	MaxMessages *int

	SuccessText string
	FullText    string
	TimeFormat  string
	Location    *time.Location

	// NormalizeRecipient rewrites the parsed recipient before it is stored.
	NormalizeRecipient func(string) string
}

// ConfigError reports an unusable construction option. The relay must not be
// used when New returns one.
type ConfigError struct {
	Type string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay config: %v", e.Err)
	}
	return fmt.Sprintf("%q database type is not supported", e.Type)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Aliases is a list of command names. In JSON it may be a list or a single
// comma-delimited string ("tell,remind").
type Aliases []string

// ParseAliases splits a comma-delimited alias list, trimming blanks.
func ParseAliases(s string) Aliases {
	var out Aliases
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *Aliases) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = ParseAliases(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("commands: want string or list of strings: %w", err)
	}
	out := make(Aliases, 0, len(list))
	for _, s := range list {
		out = append(out, ParseAliases(s)...)
	}
	*a = out
	return nil
}

// normalized returns the aliases without a leading "/" or duplicates.
func (a Aliases) normalized() []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, s := range a {
		s = strings.TrimPrefix(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, DefaultCommand)
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
