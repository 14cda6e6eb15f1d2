package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeFold(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{
			name:     "keeps first spelling",
			input:    []string{"Peanut", "peanut", "PEANUT"},
			expected: []string{"Peanut"},
		},
		{
			name:     "collapses inner whitespace before comparing",
			input:    []string{"Tree\tNut", "tree   nut", " Shellfish "},
			expected: []string{"Tree Nut", "Shellfish"},
		},
		{
			name:     "drops control-only entries",
			input:    []string{"\x00\x01", "Asthma"},
			expected: []string{"Asthma"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeFold(tt.input))
		})
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Type 2 diabetes", Clean("  Type\n2\t\tdiabetes \r\n"))
	assert.Equal(t, "ab", Clean("a\x07b"))
	assert.Equal(t, "", Clean(" \t "))
}
