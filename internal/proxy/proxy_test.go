package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p-arndt/sandkasten/internal/token"
)

func testProxy(t *testing.T, key []byte) (*Proxy, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(upstream.Close)

	p := New(token.NewService(key), slog.New(slog.NewTextHandler(io.Discard, nil)))
	plainDialer := &net.Dialer{Timeout: 2 * time.Second}
	p.dialFunc = plainDialer.DialContext
	return p, upstream
}

func TestHandleHTTPRejectsMissingToken(t *testing.T) {
	p, upstream := testProxy(t, []byte("secret"))

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	req.URL.Host = req.Host
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusProxyAuthRequired, w.Code)
}

func TestHandleHTTPRejectsDisallowedHost(t *testing.T) {
	p, upstream := testProxy(t, []byte("secret"))
	tok, err := token.NewService([]byte("secret")).Issue("sess-1", []string{"example.com"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	req.URL.Host = req.Host
	req.Header.Set("Proxy-Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusProxyAuthRequired, w.Code)
}

func TestHandleHTTPAllowsAllowlistedHost(t *testing.T) {
	p, upstream := testProxy(t, []byte("secret"))
	host, _, err := net.SplitHostPort(upstream.Listener.Addr().String())
	require.NoError(t, err)
	tok, err := token.NewService([]byte("secret")).Issue("sess-1", []string{host}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	req.URL.Host = req.Host
	req.Header.Set("Proxy-Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestHandleConnectRejectsWrongKey(t *testing.T) {
	p, _ := testProxy(t, []byte("secret"))
	tok, err := token.NewService([]byte("other-secret")).Issue("sess-1", []string{"example.com"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodConnect, "https://example.com:443", nil)
	req.Host = "example.com:443"
	req.Header.Set("Proxy-Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDialRebindingSafeBlocksLoopback(t *testing.T) {
	p := New(token.NewService([]byte("secret")), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := p.dialRebindingSafe(context.Background(), "tcp", "127.0.0.1:80")
	require.Error(t, err)
}
