package util

import (
	"strings"
	"unicode"
)

// SafeName turns a free-text attribute into a single path component. Path
// separators, characters reserved on common filesystems and control
// characters become "_"; leading and trailing spaces and dots are trimmed.
func SafeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, s)
	s = strings.Trim(s, " .")
	if s == "" {
		return "_"
	}
	return s
}
