// cmd/tickflow/main.go
//
// Entry point for the tickflow CLI. Each pipeline is a subcommand taking an
// optional resume point; `runs` lists resumable work, `stages` the resume
// points, and `init` lays out a data root.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options carries the persistent and per-run flags.
type options struct {
	root    string
	config  string
	workers int
	verbose bool
	runID   string
	fresh   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "tickflow",
		Short:         "Resumable MIDI preprocessing pipelines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `tickflow turns piano MIDI files into delta_time,pitch,duration tables
for sequence models, and turns generated tables back into MIDI.

Every stage writes to its own directory under temp/ and a ledger records
which stage runs are complete, so an interrupted or repeated run picks up
where the last one stopped.`,
	}
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", "", "data root (default $TICKFLOW_ROOT or ./data)")
	rootCmd.PersistentFlags().StringVar(&opts.config, "config", "", "settings file (default <root>/tickflow.yaml)")
	rootCmd.PersistentFlags().IntVar(&opts.workers, "workers", 0, "files processed in parallel per stage (default from settings)")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "echo the run log to stderr")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory layout and default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, opts)
		},
	}

	runsCmd := &cobra.Command{
		Use:       "runs [pipeline]",
		Short:     "List resumable pipeline runs",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: pipelineNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, opts, args)
		},
	}

	stagesCmd := &cobra.Command{
		Use:       "stages [pipeline]",
		Short:     "List pipeline stages and their resume positions",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: pipelineNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, opts, args)
		},
	}

	rootCmd.AddCommand(initCmd, runsCmd, stagesCmd)
	for _, p := range pipelines {
		rootCmd.AddCommand(newPipelineCmd(p, opts))
	}
	return rootCmd
}

func newPipelineCmd(p pipelineSpec, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   p.name + " [resume_point]",
		Short: p.short,
		Long: p.short + `.

The optional resume point is a stage name or its 1-based position; that stage
and every later one are recomputed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			point := ""
			if len(args) == 1 {
				point = args[0]
			}
			return runPipeline(cmd, opts, p, point)
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run", "", "pipeline run id to resume or create")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "start a new run instead of resuming")
	cmd.MarkFlagsMutuallyExclusive("run", "fresh")
	return cmd
}
