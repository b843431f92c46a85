package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/lchangra/lchangra-signal/internal/config"
	"github.com/lchangra/lchangra-signal/internal/httpserver"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting lchangra-signal",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
		"max_connections", cfg.MaxConnections,
		"rematch_delay", cfg.RematchDelay,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will fail", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	app, err := newApp(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})
	if err != nil {
		logger.Error("failed to configure server", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.http.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		app.close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSockets are not tracked by http.Server.Shutdown, so close
	// them first; Shutdown then only waits on plain requests.
	app.close()
	if err := app.http.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete", "stats", app.matchmaker.Stats())
}

func resolveBuildInfo(commit, builtAt string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info, which
	// carries VCS stamps for `go build` from a checkout.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if builtAt == "" {
					builtAt = s.Value
				}
			}
		}
	}
	return commit, builtAt
}
