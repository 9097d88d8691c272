package respond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"emoji stripped", "hi😀there", "hithere"},
		{"plain ascii untouched", "Hi, I'm interested!", "Hi, I'm interested!"},
		{"bmp accents kept", "héllo wörld", "héllo wörld"},
		{"cjk kept", "你好，在吗", "你好，在吗"},
		{"astral math symbols stripped", "set 𝕊 of naturals", "set  of naturals"},
		{"mixed", "ok 👍 deal ✓", "ok  deal ✓"},
		{"empty", "", ""},
		{"only astral", "🎉🎊", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_BoundaryRune(t *testing.T) {
	// U+FFFF is the last BMP code point and must survive; U+10000 is
	// the first astral one and must not.
	assert.Equal(t, "a￿b", Sanitize("a￿b"))
	assert.Equal(t, "ab", Sanitize("a\U00010000b"))
}
