package chat

import "strings"

// TitleMaxLength is the maximum length, in runes, of an auto-generated
// session title.
const TitleMaxLength = 50

// titleFromMessage derives a session title from the first user message:
// truncated to TitleMaxLength runes, preferring a word boundary past
// the halfway point.
func titleFromMessage(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= TitleMaxLength {
		return message
	}

	truncated := string(runes[:TitleMaxLength])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > TitleMaxLength/2 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimSpace(truncated) + "..."
}
