package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil || s.llm.Stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":       s.llm.Model(),
		"embed_model": s.llm.EmbedModel(),
		"stats":       s.llm.Stats.Snapshot(),
	})
}

// handlePerformance returns the performance log, oldest record first.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"records": s.orchestrator.Performance().Records(),
	})
}
