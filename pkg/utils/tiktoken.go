// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func sharedCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		// All supported providers are approximated with the GPT-4 encoding.
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// EstimateTokensByLength is the character heuristic (4 chars ≈ 1 token).
func EstimateTokensByLength(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// CountTokens returns the tiktoken count for text, falling back to the
// length heuristic when the codec is unavailable.
func CountTokens(text string) int {
	c := sharedCodec()
	if c == nil {
		return EstimateTokensByLength(text)
	}
	count, err := c.Count(text)
	if err != nil {
		return EstimateTokensByLength(text)
	}
	return count
}

// TruncateToTokenLimit truncates text to roughly limit tokens. It cuts by
// characters proportionally, so the result may fall slightly under the limit.
func TruncateToTokenLimit(text string, limit int) (string, bool) {
	current := CountTokens(text)
	if current <= limit {
		return text, false
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text, false
	}
	return text[:charLimit] + "\n... [truncated]", true
}
