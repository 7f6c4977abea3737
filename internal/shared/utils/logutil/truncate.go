package logutil

import "strings"

// TruncateForLog keeps at most maxLen bytes of s, marking the cut with "...".
func TruncateForLog(s string, maxLen int) string {
	if maxLen <= 0 {
		return "..."
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// MaskSecret shows only the first and last four characters of a credential.
// Short values are masked entirely.
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 12:
		return strings.Repeat("*", len(s))
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}
