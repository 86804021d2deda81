// Package token issues and verifies the signed session tokens shared
// between the sandbox manager (issuer) and the egress proxy (verifier).
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for any token that fails signature verification,
// has expired, or is structurally malformed. The egress proxy never
// distinguishes these cases in its response body.
var ErrInvalid = errors.New("token invalid")

// Claims is the payload carried by a session token: session id, the host
// allowlist granted at creation, issued-at, and expiry.
type Claims struct {
	jwt.RegisteredClaims
	Hosts []string `json:"hosts"`
}

// Service mints and verifies HS256 session tokens for a single signing key.
type Service struct {
	key []byte
}

// NewService builds a Service around key. Service itself does not
// generate a key; internal/config replaces an empty SIGNING_KEY with a
// random one at startup.
func NewService(key []byte) *Service {
	return &Service{key: key}
}

// Issue mints a token binding sessionID to hosts, expiring at expiresAt.
func (s *Service) Issue(sessionID string, hosts []string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Hosts: normalizeHosts(hosts),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the decoded claims.
func (s *Service) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

// AllowsHost reports whether host is covered by the allowlist in c.
// Matching is exact DNS-name equality, case-insensitive, with the port
// stripped if present — no wildcard matching, per the allowlist contract.
func (c *Claims) AllowsHost(host string) bool {
	host = normalizeHost(host)
	for _, h := range c.Hosts {
		if h == host {
			return true
		}
	}
	return false
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, normalizeHost(h))
	}
	return out
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if idx := strings.LastIndex(h, ":"); idx > 0 && !strings.Contains(h[idx:], "]") {
		// Strip an explicit port, but don't mangle a bare IPv6 literal.
		if _, err := parsePort(h[idx+1:]); err == nil {
			h = h[:idx]
		}
	}
	return h
}

func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a port: %s", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
