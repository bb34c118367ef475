package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/monadchat/internal/chat"
)

// MockClient answers deterministically without a provider.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Stream(ctx context.Context, history []chat.Message) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return NewStaticStream(splitWords(buildMockReply(history))...), nil
}

func buildMockReply(history []chat.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != chat.RoleUser {
			continue
		}
		if text := strings.TrimSpace(history[i].Content); text != "" {
			return fmt.Sprintf("Monad AI (mock) heard you: %s", text)
		}
	}
	return "Monad AI (mock) is listening."
}

// splitWords keeps the separating spaces so the fragments rejoin exactly.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
