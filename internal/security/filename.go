// Package security holds helpers for turning user-supplied identifiers into
// safe file system names.
package security

import "strings"

// maxFilenameLen bounds sanitized names to avoid overly long paths.
const maxFilenameLen = 128

// SanitizeFilename replaces every character other than ASCII letters,
// digits, dot, underscore or dash with an underscore, collapses runs of
// underscores and trims leading and trailing dots and underscores. Scenario
// names from config files pass through here before becoming directories.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
