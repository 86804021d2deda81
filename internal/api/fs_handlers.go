package api

import (
	"net/http"
	"strconv"

	"github.com/p-arndt/sandkasten/protocol"
)

type writeFileRequest struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
	Mode          string `json:"mode"`
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req writeFileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateWriteFileRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = "w"
	}
	s.logger.Debug("write file", "session_id", id, "path", req.Path, "mode", mode)
	resp, err := s.manager.WriteFile(r.Context(), id, protocol.WriteFileRequest{
		Path:          req.Path,
		Content:       req.Content,
		ContentBase64: req.ContentBase64,
		Mode:          mode,
	})
	if err != nil {
		s.logger.Error("write file", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	path := r.URL.Query().Get("path")
	maxBytes := 0
	if v := r.URL.Query().Get("max_bytes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeValidationError(w, "invalid max_bytes: "+err.Error(), nil)
			return
		}
		maxBytes = n
	}
	if err := validateReadFileRequest(path, maxBytes); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("read file", "session_id", id, "path", path)
	resp, err := s.manager.ReadFile(r.Context(), id, protocol.ReadFileRequest{Path: path, MaxBytes: maxBytes})
	if err != nil {
		s.logger.Error("read file", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
