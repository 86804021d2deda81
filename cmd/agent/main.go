// Command agent is the PID-1 process started inside every sandbox. It
// serves the exec/file/pip-install HTTP surface on the fixed agent port
// and reaps the zombie children its exec calls leave behind.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/p-arndt/sandkasten/internal/agent"
	"github.com/p-arndt/sandkasten/protocol"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	applyMemoryLimit(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go agent.ReapZombies(ctx)

	srv := agent.NewServer("/workspace", logger)
	httpServer := &http.Server{
		Addr:         "0.0.0.0:" + strconv.Itoa(protocol.AgentPort),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming exec responses may run far longer than any exec timeout
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "agent: "+err.Error())
			os.Exit(1)
		}
	}
}

// applyMemoryLimit sets RLIMIT_AS from MEMORY_LIMIT_BYTES, if the manager
// supplied one. This runs before any command is exec'd, so every child
// process inherits the same address-space ceiling; it backs up the
// container's cgroup memory limit rather than replacing it, and a
// failure here is logged, not fatal — the cgroup limit still applies.
func applyMemoryLimit(logger *slog.Logger) {
	v := os.Getenv("MEMORY_LIMIT_BYTES")
	if v == "" {
		return
	}
	limit, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logger.Warn("invalid MEMORY_LIMIT_BYTES", "value", v, "error", err)
		return
	}
	rlimit := syscall.Rlimit{Cur: limit, Max: limit}
	if err := syscall.Setrlimit(syscall.RLIMIT_AS, &rlimit); err != nil {
		logger.Warn("could not set memory limit", "error", err)
		return
	}
	logger.Info("memory limit set", "bytes", limit)
}
