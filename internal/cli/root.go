package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// NewRootCmd creates the root metabridge command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metabridge",
		Short: "MCP bridge for an isolated R meta-analysis engine",
		Long: `metabridge exposes long-running meta-analysis operations, performed by an
external R engine, to an LLM orchestrator over the Model Context Protocol.

Each conversation gets a filesystem-isolated session; every tool call runs
exactly one engine process inside that sandbox under a wall-clock timeout.

Available subcommands:
  serve       Run the stdio MCP server
  sessions    Inspect sessions under the sandbox root
  doctor      Verify the engine installation and print the configuration
  version     Print the build version

Examples:
  metabridge serve
  metabridge serve --config /etc/metabridge.yaml --debug
  metabridge sessions list
  metabridge doctor`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSessionsCmd())
	cmd.AddCommand(NewDoctorCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metabridge %s\n", Version)
		},
	}
}
