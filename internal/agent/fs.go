package agent

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/p-arndt/sandkasten/protocol"
)

// writeRoots and readRoots mirror the sandbox's writable and readable
// bind mounts; any path resolving outside these, directly or through a
// symlink, is rejected.
var (
	writeRoots = []string{"/workspace", "/mnt/user-data/outputs"}
	readRoots  = []string{"/workspace", "/mnt/user-data"}
)

// resolveContained resolves p the same way resolvePath does, then
// follows symlinks and checks the result against roots — stopping both
// a relative path like "../../../etc/shadow" and an absolute path like
// "/etc/passwd" outside the sandbox's allowed directories. The file at p
// need not exist yet, so symlinks are resolved up to its nearest
// existing ancestor and the remaining components are appended back.
func resolveContained(p string, roots []string) (string, error) {
	clean := resolvePath(p)
	if clean == "" {
		return "", fmt.Errorf("empty path")
	}
	real, err := realOfNearestExisting(clean)
	if err != nil {
		return "", err
	}
	for _, root := range roots {
		realRoot, err := realOfNearestExisting(root)
		if err != nil {
			realRoot = root
		}
		if real == realRoot || strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the allowed directories", p)
}

// realOfNearestExisting resolves symlinks along p, walking up to the
// nearest existing ancestor (filepath.EvalSymlinks requires the full
// path to exist, but a write target often doesn't yet).
func realOfNearestExisting(p string) (string, error) {
	dir := filepath.Clean(p)
	var suffix []string
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor for %q", p)
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req protocol.WriteFileRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var content []byte
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: false, Error: "invalid base64: " + err.Error()})
			return
		}
		content = decoded
	} else {
		content = []byte(req.Content)
	}

	path, err := resolveContained(req.Path, writeRoots)
	if err != nil {
		writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: false, Error: err.Error()})
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: false, Error: "mkdir: " + err.Error()})
		return
	}

	flags := os.O_CREATE | os.O_WRONLY
	if req.Mode == "a" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: false, Error: "open: " + err.Error()})
		return
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: false, Error: "write: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, protocol.WriteFileResponse{Success: true})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReadFileRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = protocol.DefaultMaxReadBytes
	}

	path, err := resolveContained(req.Path, readRoots)
	if err != nil {
		writeJSON(w, http.StatusOK, protocol.ReadFileResponse{Success: false, Error: err.Error()})
		return
	}
	f, err := os.Open(path)
	if err != nil {
		// Missing file is an error, not empty content.
		writeJSON(w, http.StatusOK, protocol.ReadFileResponse{Success: false, Error: "open: " + err.Error()})
		return
	}
	defer f.Close()

	buf := make([]byte, maxBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		writeJSON(w, http.StatusOK, protocol.ReadFileResponse{Success: false, Error: "read: " + err.Error()})
		return
	}

	truncated := n > maxBytes
	if truncated {
		n = maxBytes
	}

	writeJSON(w, http.StatusOK, protocol.ReadFileResponse{
		Success:   true,
		Content:   string(buf[:n]),
		Truncated: truncated,
	})
}
