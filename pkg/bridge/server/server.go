package server

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/tools"
)

// Server composes the MCP stdio server: the tool surface, session resources,
// guidance prompts, and the optional debug HTTP listener.
type Server struct {
	cfg        *config.Config
	dispatcher *tools.Dispatcher
	registry   *session.Registry
	metrics    *Metrics
	promReg    *prometheus.Registry
	logger     *zap.Logger
	mcp        *server.MCPServer
	version    string
}

// New builds the server and registers every tool, resource, and prompt.
func New(
	cfg *config.Config,
	dispatcher *tools.Dispatcher,
	registry *session.Registry,
	version string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	promReg := prometheus.NewRegistry()
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   registry,
		metrics:    NewMetrics(promReg, registry),
		promReg:    promReg,
		logger:     logger,
		version:    version,
	}

	s.mcp = server.NewMCPServer(
		cfg.Server.Name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Serve runs the stdio listener until ctx is cancelled or stdin closes.
// Logging stays on stderr; stdout carries only protocol frames.
func (s *Server) Serve(ctx context.Context) error {
	if addr := s.cfg.Server.DebugAddr; addr != "" {
		stop := s.serveDebug(addr)
		defer stop()
	}

	s.logger.Info("mcp server listening on stdio",
		zap.String("name", s.cfg.Server.Name),
		zap.String("version", s.version),
		zap.String("sandbox_root", s.registry.Root()))

	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func serverInstructions() string {
	return `This server performs meta-analyses through an isolated R engine.

Typical workflow:
  1. initialize_session to create an analysis session
  2. upload_data with the study data (CSV, Excel or RevMan)
  3. run_analysis to compute the pooled effect
  4. render_plot and assess_bias for forest and funnel output
  5. generate_report for the full write-up

Every tool except health_check and initialize_session requires the
session_id returned by initialize_session. Results and plots are written
into the session's results directory; get_status lists them.`
}
