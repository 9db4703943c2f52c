package server

import (
	"context"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/internal/config"
)

func TestDummyTransport(t *testing.T) {
	tr := DummyTransport{}
	ctx := context.Background()

	var req InferenceRequest
	req.Input.Messages = []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "  what time is it?  "},
	}

	resp, err := tr.Complete(ctx, "backup", config.ProviderConfig{Type: config.ProviderDummy, ModelName: "ok"}, &req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(resp.Content, "what time is it?") {
		t.Errorf("content = %q, want trimmed last message echoed", resp.Content)
	}

	_, err = tr.Complete(ctx, "primary", config.ProviderConfig{Type: config.ProviderDummy, ModelName: "error"}, &req)
	if err == nil {
		t.Fatal("error provider should fail")
	}
	if !strings.Contains(err.Error(), "primary") {
		t.Errorf("error %q should name the model", err.Error())
	}
}
