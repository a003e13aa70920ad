package templates

import (
	"strings"
	"unicode/utf8"
)

var slackReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeSlack escapes the three control characters of Slack mrkdwn text
func EscapeSlack(text string) string {
	return slackReplacer.Replace(strings.ToValidUTF8(text, ""))
}

// Truncate shortens text to at most max runes, marking the cut with an ellipsis.
// Chat APIs reject oversized messages (Discord embeds 4096, Telegram 4096).
func Truncate(text string, max int) string {
	text = strings.ToValidUTF8(text, "")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	if max == 1 {
		return "…"
	}
	return string(runes[:max-1]) + "…"
}
