package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/antoniostano/monadchat/internal/chat"
	"github.com/antoniostano/monadchat/internal/logging"
)

// Role tags expected by the provider.
const (
	providerRoleUser  = "user"
	providerRoleModel = "model"
)

// GenAIClient streams answers from the Google Generative AI API.
type GenAIClient struct {
	apiKey string
	model  string
	log    *zap.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewGenAIClient(apiKey, model string, log *zap.Logger) *GenAIClient {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &GenAIClient{
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
		log:    logging.OrNop(log).Named("genai"),
	}
}

func (c *GenAIClient) Stream(ctx context.Context, history []chat.Message) (Stream, error) {
	if c.apiKey == "" {
		return NewStaticStream(MissingCredentialText), nil
	}

	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	seq := client.Models.GenerateContentStream(ctx, c.model, buildContents(history), generationConfig())
	next, stop := iter.Pull2(seq)
	return &genaiStream{next: next, stop: stop, log: c.log}, nil
}

func (c *GenAIClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens: MaxOutputTokens,
		Temperature:     genai.Ptr(float32(Temperature)),
		TopP:            genai.Ptr(float32(TopP)),
	}
}

// buildContents prepends the persona preamble and maps roles to the
// provider's "user"/"model" tags.
func buildContents(history []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+2)
	contents = append(contents,
		&genai.Content{Role: providerRoleUser, Parts: []*genai.Part{{Text: SystemPrompt}}},
		&genai.Content{Role: providerRoleModel, Parts: []*genai.Part{{Text: Acknowledgment}}},
	)
	for _, msg := range history {
		role := providerRoleUser
		if msg.Role == chat.RoleAssistant {
			role = providerRoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents
}

type genaiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	log  *zap.Logger

	done error
}

func (s *genaiStream) Recv() (string, error) {
	if s.done != nil {
		return "", s.done
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = io.EOF
			return "", io.EOF
		}
		if err != nil {
			s.log.Warn("stream error", zap.Error(err))
			s.done = fmt.Errorf("genai stream: %w", err)
			s.stop()
			return "", s.done
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *genaiStream) Close() error {
	s.stop()
	if s.done == nil || errors.Is(s.done, io.EOF) {
		s.done = ErrStreamClosed
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		out.WriteString(part.Text)
	}
	return out.String()
}
