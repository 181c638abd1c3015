package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		old  string
		new  string
	}{
		{"empty to text", "", "hello"},
		{"text to empty", "hello", ""},
		{"both empty", "", ""},
		{"append", "hello", "hello world"},
		{"prepend", "world", "hello world"},
		{"middle edit", "the quick brown fox", "the slow brown fox"},
		{"multiline", "line one\nline two\nline three", "line one\nline 2\nline three\nline four"},
		{"unicode", "héllo wörld", "héllo wörld ✓ done"},
		{"identical", "no change here", "no change here"},
		{"large rewrite", strings.Repeat("abc ", 200), strings.Repeat("xyz ", 180)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Diff(tc.old, tc.new)
			got, err := Apply(tc.old, p)
			require.NoError(t, err)
			assert.Equal(t, tc.new, got)
		})
	}
}

func TestApplyMalformedPatch(t *testing.T) {
	_, err := Apply("base text", "not a patch")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyContextMismatch(t *testing.T) {
	// A patch built against one base must not silently apply to a base with
	// entirely different context.
	p := Diff("alpha beta gamma delta epsilon", "alpha beta GAMMA delta epsilon")
	_, err := Apply("0123456789 0123456789 0123456789", p)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyEmptyPatch(t *testing.T) {
	got, err := Apply("unchanged", "")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", got)
}
