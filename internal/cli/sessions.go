package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
)

// SessionsConfig holds flags shared by the sessions subcommands
type SessionsConfig struct {
	ConfigFile  string
	SandboxRoot string
}

// NewSessionsCmd creates the sessions command
func NewSessionsCmd() *cobra.Command {
	cfg := &SessionsConfig{}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions under the sandbox root",
		Long: `Offline inspection of the session sandbox. These commands read the
sandbox root and its index directly and never touch a running server.

Examples:
  metabridge sessions list
  metabridge sessions show 1f0c9b2a8d3e4f50`,
	}

	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&cfg.SandboxRoot, "sandbox-root", "", "Override the session sandbox root directory")

	cmd.AddCommand(newSessionsListCmd(cfg))
	cmd.AddCommand(newSessionsShowCmd(cfg))
	cmd.AddCommand(newSessionsPruneCmd(cfg))
	return cmd
}

func newSessionsPruneCmd(cfg *SessionsConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove stranded scratch files from all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			removed, err := reg.PruneScratch()
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d scratch file(s)\n", removed)
			return err
		},
	}
}

func newSessionsListCmd(cfg *SessionsConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			metas, err := reg.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions found")
				return nil
			}

			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Name", "Effect", "Created", "Data", "Results"})
			for _, meta := range metas {
				sess, err := reg.Resolve(meta.SessionID)
				if err != nil {
					continue
				}
				t.AppendRow(table.Row{
					meta.SessionID,
					meta.Name,
					meta.EffectMeasure,
					meta.Created.Format("2006-01-02 15:04"),
					yesNo(sess.HasData(), green, yellow),
					yesNo(sess.HasResults(), green, yellow),
				})
			}
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
}

func newSessionsShowCmd(cfg *SessionsConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show one session's metadata and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			sess, err := reg.Resolve(args[0])
			if err != nil {
				return err
			}

			out := map[string]interface{}{
				"session":      sess.Metadata,
				"path":         sess.Path,
				"has_data":     sess.HasData(),
				"has_results":  sess.HasResults(),
				"result_files": sess.ResultFiles(),
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func openRegistry(flags *SessionsConfig) (*session.Registry, error) {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if flags.SandboxRoot != "" {
		cfg.Sandbox.Root = flags.SandboxRoot
	}

	var store *session.Store
	if cfg.Sandbox.IndexFile != "" {
		if s, err := session.OpenStore(filepath.Join(cfg.Sandbox.Root, cfg.Sandbox.IndexFile)); err == nil {
			store = s
		}
	}
	return session.NewRegistry(cfg.Sandbox.Root, store, zap.NewNop())
}

func yesNo(v bool, yes, no func(a ...interface{}) string) string {
	if v {
		return yes("yes")
	}
	return no("no")
}
