package utils

import (
	"path/filepath"
	"strings"
	"unicode"
)

const maxDisplayNameLength = 255

// SanitizeFilename turns a client supplied name into a safe display name for
// download responses. Path components, control characters, quotes and header
// separators are dropped or replaced so the result can sit inside a
// Content-Disposition header.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "download"
	}

	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	var b strings.Builder
	b.Grow(len(filename))
	for _, r := range filename {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	result := strings.Trim(b.String(), " .")
	if result == "" {
		return "download"
	}

	if len(result) > maxDisplayNameLength {
		ext := filepath.Ext(result)
		if ext == "" || len(ext) >= 20 {
			return result[:maxDisplayNameLength]
		}
		base := result[:len(result)-len(ext)]
		result = base[:maxDisplayNameLength-len(ext)] + ext
	}
	return result
}

// SanitizeKeyName lowercases a file name and replaces everything outside
// [a-zA-Z0-9.-] with an underscore, producing the trailing segment of an
// object key.
func SanitizeKeyName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
