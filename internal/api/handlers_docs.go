package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docreduce/internal/store"
)

// handleListDocuments lists every chunked document in the output tree.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.orchestrator.Store().ListDocuments()
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDocumentChunks returns the chunk records saved for one document.
func (s *Server) handleDocumentChunks(w http.ResponseWriter, r *http.Request) {
	stem := sanitizeFilename(chi.URLParam(r, "stem"))
	records, err := s.orchestrator.Store().LoadChunks(stem)
	if errors.Is(err, store.ErrNoDocument) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load chunks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stem":   stem,
		"chunks": records,
	})
}
