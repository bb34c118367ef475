package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/antoniostano/monadchat/internal/session"
	"github.com/antoniostano/monadchat/internal/usage"
)

// replyStateTrailer tells a streaming client how the send ended once the
// body is complete. A value of "failed" means the stored reply is the
// apology, not the text that was streamed.
const replyStateTrailer = "X-Reply-State"

type sendMessageRequest struct {
	Content string `json:"content"`
}

type conversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

type quotaExceededResponse struct {
	errorResponse
	ResetIn   string `json:"reset_in"`
	ResetInMS int64  `json:"reset_in_ms"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	store := s.deps.Chats.For(identity)
	conv := store.Create()
	store.Save(r.Context(), conv)
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	list := s.deps.Chats.For(identity).List(r.Context())
	out := make([]conversationSummary, 0, len(list))
	for _, c := range list {
		out = append(out, conversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: len(c.Messages),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	conv, ok := s.deps.Chats.For(identity).Get(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "conversation_not_found", session.ErrConversationNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	s.deps.Chats.For(identity).Delete(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage runs one send through the session controller and streams
// the reply as plain text. Rejections before streaming are JSON errors.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	identity, err := requestIdentity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	convID := strings.TrimSpace(chi.URLParam(r, "id"))

	rc := http.NewResponseController(w)
	started, gone := false, false
	start := func() {
		started = true
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Trailer", replyStateTrailer)
		w.WriteHeader(http.StatusOK)
	}

	res, err := s.deps.Controller.Send(r.Context(), session.SendRequest{
		Identity:       identity,
		ConversationID: convID,
		Content:        req.Content,
	}, func(fragment, _ string) {
		// The reply keeps streaming into storage after the client leaves;
		// only the copy to the client stops.
		if gone || r.Context().Err() != nil {
			gone = true
			return
		}
		if !started {
			start()
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			gone = true
			return
		}
		_ = rc.Flush()
	})
	if gone {
		s.log.Debug("client left before reply finished", zap.String("chat_id", convID))
		return
	}

	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
		return
	case errors.Is(err, session.ErrConversationNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	case errors.Is(err, session.ErrInFlight):
		respondError(w, http.StatusConflict, "in_flight", err.Error())
		return
	case errors.Is(err, session.ErrQuotaExceeded):
		reset := s.deps.Ledger.TimeUntilReset()
		respondJSON(w, http.StatusTooManyRequests, quotaExceededResponse{
			errorResponse: errorResponse{Error: err.Error(), Code: "quota_exceeded"},
			ResetIn:       usage.FormatResetIn(reset),
			ResetInMS:     reset.Milliseconds(),
		})
		return
	case err != nil:
		s.log.Error("send message", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "send failed")
		return
	}

	if !started {
		// Nothing streamed: the whole reply, or the apology, goes out at once.
		start()
		_, _ = io.WriteString(w, res.Reply.Content)
	}
	w.Header().Set(replyStateTrailer, replyState(res))
}

func replyState(res session.Result) string {
	if res.Failed {
		return string(session.StateFailed)
	}
	return string(session.StateIdle)
}
