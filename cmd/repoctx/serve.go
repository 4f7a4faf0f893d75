package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/repoctx/internal/http"
	"github.com/fyrsmithlabs/repoctx/internal/mcp"
)

type serveFlags struct {
	mcp  bool
	host string
	port int
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval over HTTP or MCP",
		Long: `Serve retrieval over a JSON HTTP API, or over MCP on stdio with --mcp.

HTTP endpoints:
  POST /api/v1/retrieve   {"query": "...", "repo_path": "...", "skip_refine": false}
  POST /api/v1/scrub      {"content": "..."} (when server.redact is enabled)
  GET  /health
  GET  /metrics           Prometheus exposition

Examples:
  repoctx serve --port 9090
  repoctx serve --mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, root, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.mcp, "mcp", false, "serve MCP on stdio instead of HTTP")
	cmd.Flags().StringVar(&flags.host, "host", "", "override server.host")
	cmd.Flags().IntVar(&flags.port, "port", 0, "override server.port")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootFlags, flags *serveFlags) error {
	cfg, err := loadConfig(root, "")
	if err != nil {
		return err
	}
	if flags.host != "" {
		cfg.Server.Host = flags.host
	}
	if flags.port > 0 {
		cfg.Server.Port = flags.port
	}
	if flags.mcp && cfg.Logging.Output.Stream == "stdout" {
		// stdout carries the MCP protocol.
		cfg.Logging.Output.Stream = "stderr"
	}

	a, err := newApp(ctx, cfg, ".")
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.mcp {
		srv, err := mcp.NewServer(&mcp.Config{
			Name:    "repoctx",
			Version: cmd.Root().Version,
			Logger:  a.logger.Named("mcp"),
			Roots:   cfg.Server.Roots,
		}, a.pipeline, a.outputScrubber(cfg))
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	srv, err := httpapi.NewServer(a.pipeline, a.outputScrubber(cfg), a.logger.Named("http"), &httpapi.Config{
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Roots: cfg.Server.Roots,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
		return err
	}
	return nil
}
