package textmatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		text    string
		want    bool
	}{
		{"literal", "hello", "well hello there", true},
		{"anchored miss", "^hello$", "hello there", false},
		{"lookahead", `^(?=.*cat).*$`, "a cat sat", true},
		{"case insensitive flag", `(?i)STAR`, "starboard", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Match(tt.pattern, tt.text, DefaultTimeout)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Matched)
			assert.False(t, res.TimedOut)
		})
	}
}

func TestMatchInvalidPattern(t *testing.T) {
	_, err := Match("(unclosed", "x", DefaultTimeout)
	assert.Error(t, err)
	assert.Error(t, Validate("[z-a]"))
	assert.NoError(t, Validate(`\d+`))
}

func TestMatchTimeoutCountsAsMatch(t *testing.T) {
	res, err := Match(`(x+x+)+y`, strings.Repeat("x", 40), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, res.Matched)
}
