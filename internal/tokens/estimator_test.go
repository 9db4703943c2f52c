package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestEstimate(t *testing.T) {
	e := NewEstimator()

	if got := e.Estimate("gpt-4o", ""); got != 0 {
		t.Errorf("empty text = %d, want 0", got)
	}

	got := e.Estimate("gpt-4o", "Hello, how are you today?")
	if got <= 0 {
		t.Fatalf("estimate = %d, want > 0", got)
	}
	// Sanity bound: a short sentence is a handful of tokens, not hundreds.
	if got > 20 {
		t.Errorf("estimate = %d, implausibly large", got)
	}

	// Unknown models still estimate via the default encoding.
	if got := e.Estimate("some-future-model", "Hello, how are you today?"); got <= 0 {
		t.Errorf("unknown model estimate = %d, want > 0", got)
	}
}

func TestEstimateCachesCodecs(t *testing.T) {
	e := NewEstimator()
	e.Estimate("gpt-4o", "one")
	e.Estimate("gpt-4o-mini", "two")
	e.Estimate("gpt-4", "three")

	e.mu.Lock()
	defer e.mu.Unlock()
	// gpt-4o and gpt-4o-mini share O200kBase; gpt-4 adds Cl100kBase.
	if got := len(e.codecs); got != 2 {
		t.Errorf("cached codecs = %d, want 2", got)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o", tokenizer.O200kBase},
		{"GPT-4O-MINI", tokenizer.O200kBase},
		{"gpt-4.1-nano", tokenizer.O200kBase},
		{"gpt-5", tokenizer.O200kBase},
		{"o1-preview", tokenizer.O200kBase},
		{"o3-mini", tokenizer.O200kBase},
		{"gpt-4", tokenizer.Cl100kBase},
		{"gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"claude-sonnet-4", tokenizer.Cl100kBase},
		{"", tokenizer.Cl100kBase},
	}
	for _, tt := range tests {
		if got := encodingFor(tt.model); got != tt.want {
			t.Errorf("encodingFor(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := heuristic(tt.text); got != tt.want {
			t.Errorf("heuristic(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
