package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"base_with_obstacle", "base_with_obstacle"},
		{"symmetric rooms", "symmetric_rooms"},
		{"../../etc/passwd", "etc_passwd"},
		{"a  //  b", "a_b"},
		{"v1.2-final", "v1.2-final"},
		{"__..__", "unknown"},
		{"", "unknown"},
		{"héllo", "h_llo"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), "input %q", tc.in)
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	t.Parallel()
	got := SanitizeFilename(strings.Repeat("x", 500))
	assert.Len(t, got, maxFilenameLen)
}
