package store

import "strings"

// escaper mirrors MySQL's mysql_real_escape_string for the characters it
// rewrites with a backslash escape.
var escaper = strings.NewReplacer(
	"\\", `\\`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"'", `\'`,
	`"`, `\"`,
	"\x1a", `\Z`,
)

// Sanitize escapes one untrusted value.
func Sanitize(raw string) string {
	return escaper.Replace(raw)
}

// SanitizeAll escapes each value independently, preserving order.
func SanitizeAll(raw ...string) []string {
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = Sanitize(v)
	}
	return out
}
