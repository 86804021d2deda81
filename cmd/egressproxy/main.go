// Command egressproxy runs the egress proxy as a standalone process,
// for deployments that keep it off the manager host. Running it
// out-of-process requires SIGNING_KEY to be set explicitly — the
// manager's auto-generated key is process-local and the proxy has no
// other way to learn it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/p-arndt/sandkasten/internal/proxy"
	"github.com/p-arndt/sandkasten/internal/token"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	key := os.Getenv("SIGNING_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "egressproxy: SIGNING_KEY must be set when running out-of-process")
		os.Exit(1)
	}

	port := 15004
	if v := os.Getenv("PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	p := proxy.New(token.NewService([]byte(key)), logger)
	addr := fmt.Sprintf(":%d", port)
	logger.Info("egress proxy listening", "addr", addr)
	if err := p.ListenAndServe(ctx, addr); err != nil {
		fmt.Fprintln(os.Stderr, "egressproxy: "+err.Error())
		os.Exit(1)
	}
}
