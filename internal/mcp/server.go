// Package mcp provides an MCP (Model Context Protocol) server that lets
// agents run pdpsim experiments, evaluate single events and browse stored
// results.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/pdpsim/internal/config"
	"github.com/nvandessel/pdpsim/internal/logging"
	"github.com/nvandessel/pdpsim/internal/ratelimit"
	"github.com/nvandessel/pdpsim/internal/store"
)

// Server wraps the MCP SDK server and provides pdpsim tools.
type Server struct {
	server    *sdk.Server
	settings  *config.Config
	store     store.Store
	ownsStore bool
	limiters  ratelimit.ToolLimiters
	audit     *AuditLogger
	logger    *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "pdpsim")
	Version string // Server version

	// Settings supplies experiment defaults. Nil uses config.Default().
	Settings *config.Config

	// Store records simulated experiments. Nil uses an in-memory store that
	// lives as long as the server.
	Store store.Store

	// AuditDir receives mcp_audit.jsonl. Empty disables auditing.
	AuditDir string

	Logger *slog.Logger
}

// NewServer creates a new MCP server with pdpsim tools.
func NewServer(cfg *Config) (*Server, error) {
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	st, owns := cfg.Store, false
	if st == nil {
		st, owns = store.NewMemoryStore(), true
	}

	var audit *AuditLogger
	if cfg.AuditDir != "" {
		var err error
		if audit, err = NewAuditLogger(cfg.AuditDir); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:    mcpServer,
		settings:  settings,
		store:     st,
		ownsStore: owns,
		limiters:  ratelimit.NewToolLimiters(),
		audit:     audit,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the audit log and any store the server created.
func (s *Server) Close() error {
	var firstErr error
	if err := s.audit.Close(); err != nil {
		firstErr = err
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
