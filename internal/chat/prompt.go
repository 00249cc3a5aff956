package chat

import (
	"fmt"
	"strings"
)

// languages maps locale prefixes to the reply language named in the
// system prompt.
var languages = map[string]string{
	"en": "English",
	"ja": "Japanese",
}

// Language returns the reply language for a locale such as "ja" or
// "ja-JP". Unknown locales reply in English.
func Language(locale string) string {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(locale)), "-")
	base, _, _ = strings.Cut(base, "_")
	if lang, ok := languages[base]; ok {
		return lang
	}
	return languages["en"]
}

// SystemPrompt returns the system prompt for a run in the given locale.
func SystemPrompt(locale string) string {
	return fmt.Sprintf("You are a helpful assistant that can use tools to fetch and manipulate data "+
		"from connected services. When the user asks about their data, use the available tools "+
		"to get real information. Always respond in %s. If a tool call fails, explain the error "+
		"and suggest what the user can do.", Language(locale))
}
