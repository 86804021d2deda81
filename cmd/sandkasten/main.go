package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-arndt/sandkasten/internal/api"
	"github.com/p-arndt/sandkasten/internal/config"
	"github.com/p-arndt/sandkasten/internal/docker"
	"github.com/p-arndt/sandkasten/internal/pool"
	"github.com/p-arndt/sandkasten/internal/proxy"
	"github.com/p-arndt/sandkasten/internal/reaper"
	"github.com/p-arndt/sandkasten/internal/registry"
	"github.com/p-arndt/sandkasten/internal/session"
	"github.com/p-arndt/sandkasten/internal/token"
	"github.com/p-arndt/sandkasten/internal/workspace"
)

func main() {
	cfgPath := flag.String("config", "", "path to sandkasten.yaml")
	listen := flag.String("listen", "127.0.0.1:8080", "address for the RPC front-end")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		logger.Warn("no API key configured — front-end running in open access mode")
	}
	if cfg.SigningKeyAuto {
		logger.Warn("no signing key configured — generated one for this process; the egress proxy must share it to run out-of-process")
	}

	dc, err := docker.New()
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dc.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is the container runtime running?", "error", err)
		os.Exit(1)
	}
	logger.Info("container runtime connection OK")

	reg := registry.New()
	tokens := token.NewService([]byte(cfg.SigningKey))

	var ws *workspace.Manager
	if cfg.WorkspacesEnabled() {
		ws = workspace.NewManager(cfg.StoragePath)
	}

	containerPool := pool.New(cfg, dc, logger)
	containerPool.Start(ctx)
	defer containerPool.Stop(context.Background())

	mgr := session.NewManager(cfg, reg, dc, tokens, ws, containerPool)

	rpr := reaper.New(mgr, 30*time.Second, time.Duration(cfg.SessionTimeout)*time.Second, logger)
	go rpr.Run(ctx)

	if cfg.ProxyEnabled() {
		p := proxy.New(tokens, logger)
		proxyAddr := fmt.Sprintf(":%d", cfg.ProxyPort)
		go func() {
			if err := p.ListenAndServe(ctx, proxyAddr); err != nil {
				logger.Error("egress proxy stopped", "error", err)
			}
		}()
		logger.Info("egress proxy listening", "addr", proxyAddr)
	}

	srv := api.NewServer(cfg, mgr, logger)

	httpServer := &http.Server{
		Addr:         *listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // exec can be long
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", *listen)
	fmt.Fprintf(os.Stderr, "\n  sandkasten daemon ready at http://%s\n\n", *listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
