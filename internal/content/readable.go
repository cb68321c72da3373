package content

import (
	"strings"
	"unicode"
)

// HumanReadable rejects code-like text, single characters, and text with
// no letters at all.
func HumanReadable(text string) bool {
	if strings.ContainsAny(text, "{};") {
		return false
	}
	if len([]rune(text)) < 2 {
		return false
	}
	for _, r := range text {
		if unicode.IsLetter(r) || r == '_' {
			return true
		}
	}
	return false
}
