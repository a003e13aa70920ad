package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeSlack(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no special characters",
			input:    "cost spike for owner-1",
			expected: "cost spike for owner-1",
		},
		{
			name:     "angle brackets",
			input:    "<!channel> spend > budget",
			expected: "&lt;!channel&gt; spend &gt; budget",
		},
		{
			name:     "ampersand",
			input:    "R&D",
			expected: "R&amp;D",
		},
		{
			name:     "invalid utf8 dropped",
			input:    "ok\xffok",
			expected: "okok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeSlack(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "ééé…", Truncate("éééééé", 4))
	assert.Equal(t, "…", Truncate("abc", 1))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Cost spike", Title("cost_spike"))
	assert.Equal(t, "Negative roi", Title("negative_roi"))
	assert.Equal(t, "", Title(""))
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$1,234.5", FormatUSD(1234.5))
	assert.Equal(t, "$0.07", FormatUSD(0.07))
}
