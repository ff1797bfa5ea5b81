package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrub(t *testing.T) {
	s := NewScrubber()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "api key",
			input: "using sk-abcdefghijklmnopqrstuvwx for auth",
			want:  "using [SCRUBBED] for auth",
		},
		{
			name:  "email",
			input: "reach siti@contoso.co.id today",
			want:  "reach [SCRUBBED] today",
		},
		{
			name:  "phone",
			input: "call +62 812-3456-7890 now",
			want:  "call [SCRUBBED] now",
		},
		{
			name:  "clean text untouched",
			input: "order ORD-1001 shipped",
			want:  "order ORD-1001 shipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Scrub(tt.input))
		})
	}
}

func TestAddPattern(t *testing.T) {
	s := NewScrubber()

	require.NoError(t, s.AddPattern(`internal-[0-9]+`))
	assert.Equal(t, "ref [SCRUBBED]", s.Scrub("ref internal-42"))

	assert.Error(t, s.AddPattern(`[unclosed`))
}

func TestWrap(t *testing.T) {
	s := NewScrubber()
	var buf bytes.Buffer

	w := s.Wrap(&buf)
	n, err := w.Write([]byte("token for andi@example.com"))
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.NotContains(t, buf.String(), "andi@example.com")
}
