package httpapi

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/completion"
	"github.com/antoniostano/monadchat/internal/reliability"
)

// handleChat streams a completion for a client-held history as plain text.
// A failure before the first byte is answered with the apology; a failure
// after it aborts the response so the reader sees a broken body.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req completion.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.deps.Completion == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "completion client not configured")
		return
	}

	stream, err := s.deps.Completion.Stream(r.Context(), completion.FromWire(req))
	if err != nil {
		s.chatFailed(err)
		writePlainText(w, completion.ApologyText)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	wrote := false
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !wrote {
				writePlainText(w, "")
			}
			return
		}
		if err != nil {
			s.chatFailed(err)
			if !wrote {
				writePlainText(w, completion.ApologyText)
				return
			}
			panic(http.ErrAbortHandler)
		}
		if fragment == "" {
			continue
		}
		if !wrote {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			return
		}
		_ = rc.Flush()
		if s.metrics != nil {
			s.metrics.StreamFragments.Inc()
		}
	}
}

func (s *Server) chatFailed(err error) {
	class := reliability.Classify(err)
	if s.metrics != nil {
		s.metrics.CompletionErrors.WithLabelValues(s.deps.CompletionMode, string(class)).Inc()
	}
	s.log.Warn("chat stream failed", zap.String("class", string(class)), zap.Error(err))
}

func writePlainText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}
