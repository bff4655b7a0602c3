package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	n := CountTokens("Hello, world! This is a small sentence.")
	assert.Greater(t, n, 3)
	assert.Less(t, n, 20)
}

func TestEstimateTokensByLength(t *testing.T) {
	assert.Equal(t, 0, EstimateTokensByLength(""))
	assert.Equal(t, 1, EstimateTokensByLength("ab"))
	assert.Equal(t, 25, EstimateTokensByLength(strings.Repeat("a", 100)))
}

func TestTruncateToTokenLimit(t *testing.T) {
	short := "tiny"
	out, truncated := TruncateToTokenLimit(short, 100)
	assert.False(t, truncated)
	assert.Equal(t, short, out)

	long := strings.Repeat("word ", 2000)
	out, truncated = TruncateToTokenLimit(long, 100)
	assert.True(t, truncated)
	assert.Less(t, len(out), len(long))
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
}
