// Package tokens counts tokens with tiktoken so context size can be compared with model budgets.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens for one encoding.
type Counter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // Codec construction is expensive; counters are shared per model
var (
	countersMu sync.Mutex
	counters   = map[string]*Counter{}
)

// NewCounter creates a counter for model. Every provider is approximated with the GPT-4 encoding.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// ForModel returns a shared counter for model, or a length-based estimator when the codec
// cannot be loaded.
func ForModel(model string) *Counter {
	countersMu.Lock()
	defer countersMu.Unlock()

	if c, ok := counters[model]; ok {
		return c
	}
	c, err := NewCounter(model)
	if err != nil {
		c = &Counter{}
	}
	counters[model] = c
	return c
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}

	count, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Count counts text with the default encoding.
func Count(text string) int {
	return ForModel("").Count(text)
}

// Truncate shortens text to at most limit runes, marking a cut with an ellipsis. It never
// splits a multi-byte character.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := 0
	for i := range text {
		if limit == 0 {
			cut = i
			break
		}
		limit--
	}
	return text[:cut] + "…"
}
