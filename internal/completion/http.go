package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/monadchat/internal/chat"
)

const readChunkSize = 4 << 10

// HTTPClient consumes a chat endpoint that answers with an undelimited,
// chunked plain-text body.
type HTTPClient struct {
	url    string
	client *http.Client
}

// WireMessage is the request shape of the chat endpoint.
type WireMessage struct {
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
}

// ChatRequest is the JSON body POSTed to the chat endpoint.
type ChatRequest struct {
	Messages []WireMessage `json:"messages"`
}

func NewHTTPClient(url string) *HTTPClient {
	// No overall timeout: a long answer keeps the body open for as long as it
	// streams. Only dialing and the first response byte are bounded.
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		ResponseHeaderTimeout: 60 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		client: &http.Client{Transport: transport},
	}
}

// NewHTTPClientWithHTTP uses a caller-supplied http.Client.
func NewHTTPClientWithHTTP(url string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{url: strings.TrimSpace(url), client: client}
}

func (c *HTTPClient) Stream(ctx context.Context, history []chat.Message) (Stream, error) {
	payload, err := json.Marshal(ToWire(history))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return &bodyStream{body: res.Body, buf: make([]byte, readChunkSize)}, nil
}

// ToWire converts conversation history into the endpoint request body.
func ToWire(history []chat.Message) ChatRequest {
	out := ChatRequest{Messages: make([]WireMessage, 0, len(history))}
	for _, m := range history {
		out.Messages = append(out.Messages, WireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// FromWire converts a request body back into messages for the provider.
func FromWire(req ChatRequest) []chat.Message {
	out := make([]chat.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := chat.RoleUser
		if m.Role == chat.RoleAssistant {
			role = chat.RoleAssistant
		}
		out = append(out, chat.Message{Role: role, Content: m.Content})
	}
	return out
}

// bodyStream yields whatever each Read returns, holding back a trailing
// partial UTF-8 sequence until the rest of it arrives.
type bodyStream struct {
	body    io.ReadCloser
	buf     []byte
	pending []byte
	done    error
}

func (s *bodyStream) Recv() (string, error) {
	for {
		if s.done != nil {
			if len(s.pending) > 0 && errors.Is(s.done, io.EOF) {
				rest := string(s.pending)
				s.pending = nil
				return rest, nil
			}
			return "", s.done
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = io.EOF
			} else {
				// Partial text is discarded with the error; the caller never
				// renders half an answer as if it were complete.
				s.pending = nil
				s.done = fmt.Errorf("stream read: %w", err)
			}
			_ = s.body.Close()
		}

		complete, rest := splitCompleteUTF8(s.pending)
		if len(complete) > 0 {
			text := string(complete)
			s.pending = append([]byte(nil), rest...)
			return text, nil
		}
	}
}

func (s *bodyStream) Close() error {
	if s.done == nil {
		s.done = ErrStreamClosed
	}
	return s.body.Close()
}

// splitCompleteUTF8 separates b into a prefix ending on a rune boundary and
// an incomplete trailing sequence.
func splitCompleteUTF8(b []byte) (complete, rest []byte) {
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}
	return b[:cut], b[cut:]
}
