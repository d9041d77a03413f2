package utils

import "strings"

// Truncate cuts s to at most maxLen runes and appends "..." when it had to cut.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// CollapseSpace trims s and folds every run of whitespace into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
