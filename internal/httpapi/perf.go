package httpapi

import (
	"net/http"
	"time"

	"github.com/antoniostano/monadchat/internal/observability"
)

// handlePerfLatency serves the rolling stage window. An empty window is
// returned when the server runs without metrics.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{
			GeneratedAt: time.Now().UTC(),
			Stages:      []observability.StageStats{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	if s.metrics != nil {
		s.metrics.ResetStages()
	}
	w.WriteHeader(http.StatusNoContent)
}
