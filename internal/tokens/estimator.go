// Package tokens estimates request token counts for quota admission.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens with tiktoken encodings, caching codecs per
// encoding. Safe for concurrent use.
type Estimator struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

func NewEstimator() *Estimator {
	return &Estimator{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Estimate returns the token count of text for the given model. When no
// tokenizer is available the ~4-chars-per-token heuristic keeps admission
// working; an estimate is only an admission hint, the authoritative numbers
// come from provider usage reports.
func (e *Estimator) Estimate(model, text string) int64 {
	if text == "" {
		return 0
	}
	codec, err := e.codec(model)
	if err != nil {
		return heuristic(text)
	}
	n, err := codec.Count(text)
	if err != nil {
		return heuristic(text)
	}
	return int64(n)
}

func heuristic(text string) int64 {
	return int64(len(text)+3) / 4
}

func (e *Estimator) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	e.codecs[enc] = c
	return c, nil
}

func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
