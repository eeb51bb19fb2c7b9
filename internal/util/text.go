package util

import "strings"

// SanitizePostgresText drops NUL bytes and invalid UTF-8, neither of which
// a TEXT column accepts.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	return strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
}

// SanitizePostgresTexts sanitizes every entry of a TEXT[] value, dropping
// entries left empty. The result is never nil.
func SanitizePostgresTexts(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = SanitizePostgresText(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
