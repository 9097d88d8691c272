package respond

import "strings"

// Sanitize strips runes outside the Basic Multilingual Plane. The
// keyboard input path cannot encode characters above U+FFFF, so emoji
// and other astral-plane characters are dropped rather than failing
// the whole send. Everything in the BMP, including non-ASCII text,
// passes through unchanged.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			b.WriteRune(r)
		}
	}
	return b.String()
}
