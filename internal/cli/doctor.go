package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/engine"
)

// NewDoctorCmd creates the doctor command
func NewDoctorCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the engine installation and print the configuration",
		Long: `Probe the R interpreter the bridge is configured to use and print the
effective configuration. Exits non-zero when the engine is not runnable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
				spinner.WithWriter(os.Stderr))
			s.Suffix = " probing " + cfg.Engine.Interpreter
			s.Start()
			banner, probeErr := engine.Probe(cmd.Context(), cfg.Engine.Interpreter)
			s.Stop()

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "interpreter:     %s\n", cfg.Engine.Interpreter)
			fmt.Fprintf(out, "entry script:    %s\n", cfg.Engine.EntryScript)
			fmt.Fprintf(out, "sandbox root:    %s\n", cfg.Sandbox.Root)
			fmt.Fprintf(out, "timeout:         %s\n", cfg.Timeout())
			fmt.Fprintf(out, "inline limit:    %d bytes\n", cfg.Sandbox.InlineThresholdBytes)
			fmt.Fprintf(out, "payload limit:   %d bytes\n", cfg.Sandbox.MaxPayloadBytes)

			if probeErr != nil {
				fmt.Fprintf(out, "engine:          %s\n", red("not runnable"))
				return probeErr
			}
			fmt.Fprintf(out, "engine:          %s (%s)\n", green("ok"), banner)
			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	return cmd
}
