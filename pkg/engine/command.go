package engine

import (
	"strings"
	"unicode"
)

// IsCommand reports whether text is addressed to the command path. The prefix
// must be the first byte; " /help" is a plain message.
func IsCommand(text string) bool {
	return strings.HasPrefix(text, CommandPrefix)
}

// ParseCommand splits "/keyword params" text. Keywords are lower-cased and a
// Telegram-style "@botname" suffix is dropped.
func ParseCommand(text string) (Command, bool) {
	if !IsCommand(text) {
		return Command{}, false
	}

	body := strings.TrimPrefix(text, CommandPrefix)
	keyword, params := body, ""
	if idx := strings.IndexFunc(body, unicode.IsSpace); idx >= 0 {
		keyword, params = body[:idx], body[idx:]
	}
	keyword, _, _ = strings.Cut(keyword, "@")
	keyword = strings.ToLower(keyword)
	if keyword == "" {
		return Command{}, false
	}

	return Command{Keyword: keyword, Params: strings.TrimSpace(params)}, true
}

// String rebuilds the textual form: "/keyword" or "/keyword params".
func (c Command) String() string {
	if c.Params == "" {
		return CommandPrefix + c.Keyword
	}
	return CommandPrefix + c.Keyword + " " + c.Params
}
