package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/engine"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/payload"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/server"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/tools"
)

// ServeConfig holds flag overrides for the serve command
type ServeConfig struct {
	ConfigFile    string
	SandboxRoot   string
	DebugAddr     string
	Debug         bool
	AllowDegraded bool
}

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	cfg := &ServeConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stdio MCP server",
		Long: `Run the MCP server on stdin/stdout.

The engine interpreter is probed before the request loop starts; a failed
probe aborts startup unless --allow-degraded is set, in which case only
health_check keeps answering with a degraded status.

Examples:
  metabridge serve
  metabridge serve --config /etc/metabridge.yaml
  metabridge serve --debug --debug-addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.ConfigFile, "config", "", "Path to a YAML config file (METABRIDGE_* env vars take precedence)")
	cmd.Flags().StringVar(&cfg.SandboxRoot, "sandbox-root", "", "Override the session sandbox root directory")
	cmd.Flags().StringVar(&cfg.DebugAddr, "debug-addr", "", "Serve /health, /info and /metrics on this address")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Attach captured engine stderr to responses and log verbosely")
	cmd.Flags().BoolVar(&cfg.AllowDegraded, "allow-degraded", false, "Keep serving when the engine probe fails at startup")

	return cmd
}

func runServe(ctx context.Context, flags *ServeConfig) error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if flags.SandboxRoot != "" {
		cfg.Sandbox.Root = flags.SandboxRoot
	}
	if flags.DebugAddr != "" {
		cfg.Server.DebugAddr = flags.DebugAddr
	}
	cfg.Debug = cfg.Debug || flags.Debug
	cfg.Engine.AllowDegraded = cfg.Engine.AllowDegraded || flags.AllowDegraded

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	bridge, err := buildBridge(cfg, logger)
	if err != nil {
		return err
	}

	// Verify the engine before entering the loop; a broken install is a
	// startup failure, not a per-request one.
	banner, probeErr := engine.Probe(ctx, cfg.Engine.Interpreter)
	if probeErr != nil {
		if !cfg.Engine.AllowDegraded {
			return probeErr
		}
		logger.Warn("engine probe failed, serving degraded", zap.Error(probeErr))
		bridge.dispatcher.SetEngineStatus(tools.EngineStatus{Degraded: true})
	} else {
		logger.Info("engine probe ok", zap.String("version", banner))
		bridge.dispatcher.SetEngineStatus(tools.EngineStatus{Version: banner})
	}

	srv := server.New(cfg, bridge.dispatcher, bridge.registry, Version, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// bridgeComponents bundles the wired request path.
type bridgeComponents struct {
	registry   *session.Registry
	dispatcher *tools.Dispatcher
}

func buildBridge(cfg *config.Config, logger *zap.Logger) (*bridgeComponents, error) {
	// The index lives inside the sandbox root, so the root must exist first.
	if err := os.MkdirAll(cfg.Sandbox.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	var store *session.Store
	if cfg.Sandbox.IndexFile != "" {
		indexPath := filepath.Join(cfg.Sandbox.Root, cfg.Sandbox.IndexFile)
		s, err := session.OpenStore(indexPath)
		if err != nil {
			// The index is an accelerator; the filesystem stays
			// authoritative.
			logger.Warn("session index unavailable", zap.Error(err))
		} else {
			store = s
		}
	}

	registry, err := session.NewRegistry(cfg.Sandbox.Root, store, logger)
	if err != nil {
		return nil, err
	}

	marshaller := payload.NewMarshaller(
		cfg.Sandbox.InlineThresholdBytes, cfg.Sandbox.MaxPayloadBytes, logger)
	executor := engine.NewExecutor(logger)
	dispatcher := tools.NewDispatcher(cfg, registry, marshaller, executor, Version, logger)

	return &bridgeComponents{registry: registry, dispatcher: dispatcher}, nil
}
