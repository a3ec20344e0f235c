// Package token provides token counting for chunk budgeting.
//
// Counts use cl100k_base byte-pair encoding by default. The tokenizer name
// is persisted with every chunk so callers can re-tokenize with a different
// model without ambiguity. When the BPE tables cannot be loaded (air-gapped
// hosts on first run) the counter degrades to a character heuristic and
// reports a distinct tokenizer name.
package token

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding is the byte-pair encoding used for chunk budgets.
	DefaultEncoding = "cl100k_base"

	// HeuristicName is the tokenizer name recorded when BPE tables are
	// unavailable and counts fall back to a character estimate.
	HeuristicName = "heuristic_chars4"

	// charsPerToken is the fallback estimate of characters per token.
	charsPerToken = 4
)

// Counter counts tokens in text.
type Counter struct {
	name     string
	encoding *tiktoken.Tiktoken

	mu sync.RWMutex
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// NewCounter creates a counter for the named encoding.
// An unloadable encoding is not an error: the counter falls back to the
// character heuristic so indexing always proceeds.
func NewCounter(encodingName string) *Counter {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}

	encodingCacheMu.Lock()
	enc, ok := encodingCache[encodingName]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(encodingName)
		if err != nil {
			enc = nil
		}
		encodingCache[encodingName] = enc
	}
	encodingCacheMu.Unlock()

	name := encodingName
	if enc == nil {
		name = HeuristicName
	}
	return &Counter{name: name, encoding: enc}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.encoding == nil {
		return estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Name returns the tokenizer name persisted alongside counts.
func (c *Counter) Name() string {
	return c.name
}

// estimate is the character heuristic used when no BPE tables are loaded.
func estimate(text string) int {
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}
