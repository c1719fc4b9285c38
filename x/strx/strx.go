package strx

import "strings"

// Coalesce returns s if non-empty, otherwise d.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Blank reports whether s is empty after trimming whitespace.
func Blank(s string) bool { return strings.TrimSpace(s) == "" }
