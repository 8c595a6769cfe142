package relay

import "strings"

// Command is a parsed tell invocation.
type Command struct {
	Recipient string
	Body      string
}

// ParseCommand splits argument tokens into a recipient and a message body.
// The first token is the recipient and the rest are joined with single spaces.
// It reports false when there is no recipient or no body.
func ParseCommand(tokens []string) (Command, bool) {
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			words = append(words, t)
		}
	}
	if len(words) < 2 {
		return Command{}, false
	}
	return Command{
		Recipient: words[0],
		Body:      strings.Join(words[1:], " "),
	}, true
}

// Fields tokenizes raw argument text the way hosts hand it to ParseCommand.
func Fields(raw string) []string { return strings.Fields(raw) }
