package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/redact"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
)

// Retriever answers retrieval requests.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
}

// Scrubber removes secrets from text.
type Scrubber interface {
	Redact(text string) (string, []redact.Finding)
}

// Server is an MCP server backed by a retrieval pipeline.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	scrubber  Scrubber
	open      func(root string) (repository.Repo, error)
	roots     []string
	metrics   *Metrics
	logger    *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "repoctx")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Roots restricts the repositories a tool call may name. Empty allows
	// any path.
	Roots []string

	// Open opens repositories; repository.Open when nil.
	Open func(root string) (repository.Repo, error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "repoctx",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server. scrubber may be nil.
func NewServer(cfg *Config, retriever Retriever, scrubber Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	open := cfg.Open
	if open == nil {
		open = func(root string) (repository.Repo, error) { return repository.Open(root) }
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		retriever: retriever,
		scrubber:  scrubber,
		open:      open,
		roots:     cfg.Roots,
		metrics:   NewMetrics(logger),
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// repoRoot resolves path and checks it against the configured roots.
func (s *Server) repoRoot(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("invalid repo_path: empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid repo_path: %w", err)
	}
	if len(s.roots) == 0 {
		return abs, nil
	}
	for _, root := range s.roots {
		r, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(r, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("permission denied: repo_path %s is outside the allowed roots", path)
}
