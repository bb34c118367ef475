package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/chat"
)

const (
	// MissingCredentialText is the whole answer when no API key is configured.
	MissingCredentialText = "Error: API key not configured"
	// ApologyText replaces an answer whose stream failed.
	ApologyText = "Sorry, I encountered an error. Please try again."

	DefaultModel = "gemma-3-27b-it"
)

// Generation parameters sent with every request.
const (
	MaxOutputTokens = 2048
	Temperature     = 0.9
	TopP            = 0.95
)

// Stream is a one-shot sequence of text fragments. Recv returns io.EOF once
// the answer is complete; any other error ends the stream in a failed state.
// Fragment boundaries carry no meaning; concatenate them verbatim.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client starts a streamed completion for the full conversation so far.
type Client interface {
	Stream(ctx context.Context, history []chat.Message) (Stream, error)
}

// Config controls client construction.
type Config struct {
	Mode        string
	APIKey      string
	Model       string
	EndpointURL string
	Logger      *zap.Logger
}

// StatusError reports a non-2xx answer from the chat endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint status %d: %s", e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

var ErrStreamClosed = errors.New("stream closed")

func NewClient(cfg Config) (Client, error) {
	switch ResolveMode(cfg) {
	case "genai":
		return NewGenAIClient(cfg.APIKey, cfg.Model, cfg.Logger), nil
	case "http":
		if strings.TrimSpace(cfg.EndpointURL) == "" {
			return nil, errors.New("chat endpoint url is required for http mode")
		}
		return NewHTTPClient(cfg.EndpointURL), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

// ResolveMode turns "auto" into a concrete mode: a configured API key wins,
// then an endpoint URL. With neither, genai is still chosen so that callers
// get the fixed missing-credential answer instead of a silent mock.
func ResolveMode(cfg Config) string {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode != "" && mode != "auto" {
		return mode
	}
	if strings.TrimSpace(cfg.APIKey) != "" {
		return "genai"
	}
	if strings.TrimSpace(cfg.EndpointURL) != "" {
		return "http"
	}
	return "genai"
}

// staticStream replays a fixed list of fragments.
type staticStream struct {
	fragments []string
	closed    bool
}

// NewStaticStream returns a stream that yields fragments in order, then io.EOF.
func NewStaticStream(fragments ...string) Stream {
	return &staticStream{fragments: fragments}
}

func (s *staticStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if len(s.fragments) == 0 {
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *staticStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains s and returns the concatenated text.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out strings.Builder
	for {
		f, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
		out.WriteString(f)
	}
}
