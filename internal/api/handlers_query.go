package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/parser"
	"github.com/dgallion1/docreduce/internal/pipeline"
)

type queryRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return
	}

	resp, err := s.orchestrator.Ask(r.Context(), req.Question)
	switch {
	case errors.Is(err, pipeline.ErrNoIndex):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.log.Error("query failed", "error", err)
		jsonError(w, "query failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProcess translates and/or summarizes one uploaded file. Options come
// from form fields: translate, target_lang, summarize, strategy, max_chars.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename, data, status, err := s.readUpload(file, header.Filename)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}

	opts := pipeline.ProcessOptions{
		Translate:  r.FormValue("translate") == "true",
		TargetLang: r.FormValue("target_lang"),
		Summarize:  r.FormValue("summarize") == "true",
		Strategy:   r.FormValue("strategy"),
	}
	if opts.Summarize && opts.Strategy == "" {
		opts.Strategy = string(llm.Abstractive)
	}
	if v := r.FormValue("max_chars"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "max_chars must be a positive integer", http.StatusBadRequest)
			return
		}
		opts.MaxChars = n
	}

	dir, err := os.MkdirTemp("", "docreduce-upload-*")
	if err != nil {
		jsonError(w, "failed to stage upload", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		jsonError(w, "failed to stage upload", http.StatusInternalServerError)
		return
	}

	res, err := s.orchestrator.ProcessFile(r.Context(), path, opts)
	if err != nil {
		var extractErr *parser.ExtractionError
		code := http.StatusBadGateway
		if res == nil {
			code = http.StatusBadRequest
		}
		if errors.As(err, &extractErr) {
			code = http.StatusUnprocessableEntity
		}
		jsonError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
