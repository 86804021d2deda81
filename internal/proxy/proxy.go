// Package proxy implements the egress proxy: a forward HTTP/HTTPS proxy
// that authorizes every request against a signed session token and a
// per-session host allowlist before relaying traffic out of the host.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/p-arndt/sandkasten/internal/token"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
	maxRequestBodySize = 10 << 20
)

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Proxy is the egress proxy's HTTP handler.
type Proxy struct {
	tokens *token.Service
	logger *slog.Logger

	dialer    *net.Dialer
	transport *http.Transport
	resolver  *net.Resolver

	// dialFunc performs outbound dials for both CONNECT and regular HTTP
	// forwarding. Defaults to dialRebindingSafe; tests override it to
	// reach a local httptest server without tripping the blocked-IP check.
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New builds a Proxy that verifies tokens with tokens.
func New(tokens *token.Service, logger *slog.Logger) *Proxy {
	p := &Proxy{
		tokens:   tokens,
		logger:   logger,
		dialer:   &net.Dialer{Timeout: defaultDialTimeout},
		resolver: net.DefaultResolver,
	}
	p.dialFunc = p.dialRebindingSafe
	p.transport = &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return p.dialFunc(ctx, network, addr)
		},
		DisableKeepAlives: true,
	}
	return p
}

// ListenAndServe starts the proxy on addr and blocks until ctx is
// canceled or the server errors.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           p,
		IdleTimeout:       defaultIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.transport.CloseIdleConnections()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ServeHTTP dispatches CONNECT requests to the tunnel handler and
// everything else to the forwarding handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := p.authorize(r)
	if err != nil {
		p.denyAuth(w, r, err)
		return
	}

	if r.Method == http.MethodConnect {
		p.handleConnect(w, r, claims)
		return
	}
	p.handleHTTP(w, r, claims)
}

// authorize extracts and verifies the bearer session token carried in
// Proxy-Authorization. No DNS lookups or upstream dials happen before
// this returns successfully.
func (p *Proxy) authorize(r *http.Request) (*token.Claims, error) {
	header := r.Header.Get("Proxy-Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, token.ErrInvalid
	}
	return p.tokens.Verify(strings.TrimPrefix(header, prefix))
}

// denyAuth returns 407 for regular HTTP and closes CONNECT with 403, per
// the documented proxy failure semantics; no traffic is proxied either way.
func (p *Proxy) denyAuth(w http.ResponseWriter, r *http.Request, err error) {
	if r.Method == http.MethodConnect {
		http.Error(w, "proxy: authorization required", http.StatusForbidden)
		return
	}
	w.Header().Set("Proxy-Authenticate", `Bearer realm="sandkasten"`)
	http.Error(w, "proxy: authorization required", http.StatusProxyAuthRequired)
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if r.URL.Host == "" {
		http.Error(w, "proxy: missing host in request URL", http.StatusBadRequest)
		return
	}
	host, _, err := parseHostPort(r.URL.Host, "80")
	if err != nil {
		http.Error(w, "proxy: invalid host", http.StatusBadRequest)
		return
	}
	if !claims.AllowsHost(host) {
		w.Header().Set("Proxy-Authenticate", `Bearer realm="sandkasten"`)
		http.Error(w, "proxy: host not in allowlist", http.StatusProxyAuthRequired)
		return
	}

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	removeHopByHopHeaders(outReq.Header)

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		p.logger.Error("proxy: upstream request failed", "host", host, "error", err)
		http.Error(w, "proxy: upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopByHopHeaders(resp.Header)
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request, claims *token.Claims) {
	host, port, err := parseHostPort(r.Host, "443")
	if err != nil {
		http.Error(w, "proxy: invalid CONNECT host", http.StatusBadRequest)
		return
	}
	if !claims.AllowsHost(host) {
		http.Error(w, "proxy: host not in allowlist", http.StatusForbidden)
		return
	}

	targetConn, err := p.dialFunc(r.Context(), "tcp", net.JoinHostPort(host, port))
	if err != nil {
		p.logger.Error("proxy: CONNECT dial failed", "target", host, "error", err)
		http.Error(w, fmt.Sprintf("proxy: dial target: %s", err), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		targetConn.Close()
		http.Error(w, "proxy: hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, bufRW, err := hijacker.Hijack()
	if err != nil {
		targetConn.Close()
		p.logger.Error("proxy: hijack failed", "error", err)
		return
	}

	bufRW.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	bufRW.Flush()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer targetConn.Close()
		defer clientConn.Close()
		io.Copy(targetConn, bufRW)
	}()
	go func() {
		defer wg.Done()
		defer clientConn.Close()
		defer targetConn.Close()
		io.Copy(clientConn, targetConn)
	}()
	wg.Wait()
}

// dialRebindingSafe resolves the host once, rejects any resolved (or
// literal) IP in a blocked range, then dials the resolved IP directly so
// a second, differently-answered lookup between check and dial cannot
// redirect the connection (DNS rebinding).
func (p *Proxy) dialRebindingSafe(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := parseHostPort(addr, "")
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid address %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("proxy: connection to blocked IP %s denied", ip)
		}
		return p.dialer.DialContext(ctx, network, addr)
	}

	ips, err := p.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("proxy: DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("proxy: no IP addresses found for %q", host)
	}
	for _, ipAddr := range ips {
		if isBlockedIP(ipAddr.IP) {
			return nil, fmt.Errorf("proxy: DNS resolved to blocked IP %s for host %q", ipAddr.IP, host)
		}
	}

	resolved := net.JoinHostPort(ips[0].IP.String(), port)
	return p.dialer.DialContext(ctx, network, resolved)
}

func parseHostPort(hostport, defaultPort string) (host, port string, err error) {
	if hostport == "" {
		return "", "", fmt.Errorf("empty address")
	}
	host, port, err = net.SplitHostPort(hostport)
	if err != nil {
		if defaultPort == "" {
			return "", "", fmt.Errorf("missing port in address %q", hostport)
		}
		if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
			host = hostport[1 : len(hostport)-1]
		} else {
			host = hostport
		}
		port = defaultPort
	}
	if host == "" {
		return "", "", fmt.Errorf("empty host in address %q", hostport)
	}
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}

func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
