package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies for development and tests.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Name() string { return "mock" }

func (c *MockClient) NewSession(_ context.Context, instruction string) (Handle, error) {
	return &mockHandle{instruction: instruction}, nil
}

type mockHandle struct {
	instruction string
}

func (h *mockHandle) Send(ctx context.Context, history []Message, text string) (string, error) {
	select {
	case <-ctx.Done():
		return "", &UpstreamError{Provider: "mock", Err: ctx.Err()}
	default:
	}
	return buildMockReply(history, text), nil
}

func buildMockReply(history []Message, text string) string {
	base := strings.TrimSpace(text)
	if base == "" {
		base = "..."
	}

	var lastUser string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			lastUser = strings.TrimSpace(history[i].Text)
			break
		}
	}
	if lastUser == "" {
		return fmt.Sprintf("Tớ nghe cậu nói: %s", base)
	}
	return fmt.Sprintf("Tớ nghe cậu nói: %s\nTớ vẫn nhớ cậu hỏi: %s", base, lastUser)
}
