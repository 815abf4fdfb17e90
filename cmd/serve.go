package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"claude-code-proxy/internal/config"
	"claude-code-proxy/internal/metrics"
	"claude-code-proxy/internal/modelmap"
	"claude-code-proxy/internal/server"
	"claude-code-proxy/internal/upstream"
)

const serveUsage = `Usage:
  claude-code-proxy serve [--port <port>]

Flags:
  --port int   Override the listen port (default from PROXY_PORT or 8000)

Environment:
  OPENROUTER_API_KEY    Upstream credential (required)
  OPENROUTER_BASE_URL   Upstream chat completions URL
  PROXY_PORT            Listen port
  PROXY_VERBOSE         Enable debug logging (true/false)
  PROXY_MODEL_MAP       Path to a YAML model mapping overrides file`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var overridePort int
	fs.IntVar(&overridePort, "port", 0, "override listen port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Port = overridePort
	}

	setupLogging(cfg.Verbose)

	client, err := upstream.New(cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return err
	}

	resolver := modelmap.NewResolver(cfg.ModelOverrides)

	srv, err := server.New(cfg, resolver, client, metrics.New())
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
