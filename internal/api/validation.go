package api

import (
	"fmt"
	"regexp"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// ValidateSessionID reports whether id is safe to use as a path component
// and registry key.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return nil
}

func validateCreateSessionRequest(req createSessionRequest) error {
	if req.SessionID != "" {
		if err := ValidateSessionID(req.SessionID); err != nil {
			return err
		}
	}
	for _, host := range req.AllowedHosts {
		if host == "" {
			return fmt.Errorf("allowed_hosts entries must not be empty")
		}
	}
	return nil
}

func validateExecRequest(req execRequest) error {
	if req.Cmd == "" {
		return fmt.Errorf("cmd is required")
	}
	if req.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be non-negative")
	}
	if req.TimeoutMs > 600_000 {
		return fmt.Errorf("timeout_ms must not exceed 600000 (10 minutes)")
	}
	return nil
}

func validateWriteFileRequest(req writeFileRequest) error {
	if req.Path == "" {
		return fmt.Errorf("path is required")
	}
	if req.Content != "" && req.ContentBase64 != "" {
		return fmt.Errorf("provide either 'content' or 'content_base64', not both")
	}
	if req.Mode != "w" && req.Mode != "a" && req.Mode != "" {
		return fmt.Errorf("mode must be 'w' or 'a'")
	}
	return nil
}

func validateReadFileRequest(path string, maxBytes int) error {
	if path == "" {
		return fmt.Errorf("path query parameter is required")
	}
	if maxBytes < 0 {
		return fmt.Errorf("max_bytes must be non-negative")
	}
	if maxBytes > 100*1024*1024 {
		return fmt.Errorf("max_bytes must not exceed 104857600 (100MB)")
	}
	return nil
}

func validatePipInstallRequest(req pipInstallRequest) error {
	if len(req.Packages) == 0 {
		return fmt.Errorf("packages must not be empty")
	}
	for _, p := range req.Packages {
		if p == "" {
			return fmt.Errorf("packages entries must not be empty")
		}
	}
	return nil
}
