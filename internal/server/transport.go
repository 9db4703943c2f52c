package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/config"
)

// DummyTransport fabricates completions locally for development and tests.
// A provider whose model_name is "error" always fails, which exercises
// routing and fallback behavior end to end.
type DummyTransport struct{}

var _ Transport = DummyTransport{}

func (DummyTransport) Complete(ctx context.Context, model string, provider config.ProviderConfig, req *InferenceRequest) (*InferenceResponse, error) {
	if provider.ModelName == "error" {
		return nil, fmt.Errorf("dummy provider for model %s failed", model)
	}

	var last string
	if n := len(req.Input.Messages); n > 0 {
		last = req.Input.Messages[n-1].Content
	}
	content := fmt.Sprintf("echo from %s: %s", model, strings.TrimSpace(last))
	return &InferenceResponse{Content: content}, nil
}
