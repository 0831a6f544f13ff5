package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ragserve/ragserve/pkg/config"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed config patch")
		return
	}

	snap, err := s.svc.Config.Update(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type indexRequest struct {
	FilePath      string `json:"file_path"`
	ClearExisting bool   `json:"clear_existing"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Config.Get().Enabled {
		writeDisabled(w)
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeDetail(w, http.StatusBadRequest, "file_path must not be empty")
		return
	}

	report, err := s.svc.IndexFile(r.Context(), req.FilePath, req.ClearExisting)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type queryRequest struct {
	Query         string `json:"query"`
	TopK          int    `json:"top_k"`
	IncludeChunks bool   `json:"include_chunks"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Config.Get().Enabled {
		writeDisabled(w)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	result, err := s.svc.Query(r.Context(), req.Query, req.TopK, req.IncludeChunks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type clearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Status: "cleared", Message: "vector store cleared"})
}
