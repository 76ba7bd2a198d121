package inference

import (
	"context"
	"errors"
	"testing"
)

func TestChainFallback(t *testing.T) {
	failing := WithError(errors.New("provider 1 failed"))
	working := NewMock("From working provider")

	chain, err := NewChain(failing, working)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}
	defer chain.Close()

	resp, err := chain.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("test")},
	})
	if err != nil {
		t.Fatalf("Chain chat failed: %v", err)
	}
	if resp.Message.Content != "From working provider" {
		t.Errorf("Unexpected response: %s", resp.Message.Content)
	}
	if failing.CallCount("Chat") != 1 || working.CallCount("Chat") != 1 {
		t.Errorf("calls = %d/%d", failing.CallCount("Chat"), working.CallCount("Chat"))
	}
}

func TestChainAllFail(t *testing.T) {
	chain, _ := NewChain(
		WithError(errors.New("first")),
		WithError(errors.New("second")),
	)

	_, err := chain.Chat(context.Background(), &ChatRequest{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("error = %v, want ErrAllProvidersFailed", err)
	}

	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Errorf("ChainError = %v", err)
	}
}

func TestChainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := NewMock("unreached")
	chain, _ := NewChain(WithError(errors.New("first")), second)

	if _, err := chain.Chat(ctx, &ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if second.CallCount("Chat") != 0 {
		t.Error("second provider called after cancellation")
	}
}

func TestChainEmpty(t *testing.T) {
	if _, err := NewChain(); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("NewChain() error = %v", err)
	}
}

func TestChainClose(t *testing.T) {
	a, b := NewMock("a"), NewMock("b")
	chain, _ := NewChain(a, b)
	chain.Close()

	if a.CallCount("Close") != 1 || b.CallCount("Close") != 1 {
		t.Error("Close not propagated")
	}
	if len(chain.Providers()) != 2 {
		t.Errorf("Providers() = %d", len(chain.Providers()))
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status, Provider: "test"}
		if got := e.IsRetryable(); got != tt.retryable {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}
