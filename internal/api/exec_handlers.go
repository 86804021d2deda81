package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/p-arndt/sandkasten/protocol"
)

type execRequest struct {
	Cmd       string `json:"cmd"`
	TimeoutMs int    `json:"timeout_ms"`
	Workdir   string `json:"workdir"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req execRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateExecRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("exec", "session_id", id, "cmd", req.Cmd)
	result, err := s.manager.Exec(r.Context(), id, protocol.ExecRequest{
		Cmd:       req.Cmd,
		TimeoutMs: req.TimeoutMs,
		Workdir:   req.Workdir,
	})
	if err != nil {
		s.logger.Error("exec", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req execRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateExecRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeValidationError(w, "streaming not supported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("exec stream", "session_id", id, "cmd", req.Cmd)
	err := s.manager.ExecStream(r.Context(), id, protocol.ExecRequest{
		Cmd:       req.Cmd,
		TimeoutMs: req.TimeoutMs,
		Workdir:   req.Workdir,
	}, func(chunk protocol.StreamChunk) {
		sendChunkEvent(w, flusher, chunk)
	})
	if err != nil {
		sendErrorEvent(w, flusher, err)
	}
}

// sendChunkEvent writes one exec_stream chunk as a named SSE event:
// "chunk" for stdout/stderr, "done" for the terminal exit chunk. The
// terminal chunk's ExitCode is the sole synchronization point between
// the two output channels — it is never reordered ahead of data chunks
// because onChunk delivers them in the order the manager forwards them.
func sendChunkEvent(w http.ResponseWriter, flusher http.Flusher, chunk protocol.StreamChunk) {
	if chunk.Channel == protocol.ChannelExit {
		data, _ := json.Marshal(map[string]any{
			"exit_code": chunk.ExitCode,
			"timed_out": chunk.TimedOut,
		})
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}
	data, _ := json.Marshal(map[string]any{"channel": chunk.Channel, "data": chunk.Data})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

func sendErrorEvent(w http.ResponseWriter, flusher http.Flusher, err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}

type pipInstallRequest struct {
	Packages []string `json:"packages"`
}

func (s *Server) handlePipInstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req pipInstallRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validatePipInstallRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("pip install", "session_id", id, "packages", req.Packages)
	result, err := s.manager.PipInstall(r.Context(), id, req.Packages)
	if err != nil {
		s.logger.Error("pip install", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
