package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/logging"
	"github.com/kingrea/tickflow/internal/pipeline"
	"github.com/kingrea/tickflow/internal/stages/forward"
	"github.com/kingrea/tickflow/internal/stages/reverse"
	"github.com/kingrea/tickflow/internal/tui"
)

type pipelineSpec struct {
	name       string
	short      string
	definition func(*config.Config) (pipeline.Definition, error)
}

var pipelines = []pipelineSpec{
	{name: forward.Pipeline, short: "Turn raw MIDI files into feature tables", definition: forward.Definition},
	{name: reverse.Pipeline, short: "Turn generated feature tables back into MIDI", definition: reverse.Definition},
}

func pipelineNames() []string {
	names := make([]string, len(pipelines))
	for i, p := range pipelines {
		names[i] = p.name
	}
	return names
}

// interactive is swapped out by tests.
var interactive = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

func (o *options) dataRoot() string {
	if o.root != "" {
		return o.root
	}
	return config.DefaultRoot()
}

func (o *options) load() (*config.Config, error) {
	root := o.dataRoot()
	if err := config.InitDataDir(root); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(root, o.config)
	if err != nil {
		return nil, err
	}
	if o.workers > 0 {
		cfg.Settings.Workers = o.workers
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, opts *options) error {
	root := opts.dataRoot()
	if err := config.InitDataDir(root); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized data root at %s\n", root)
	return nil
}

func selectPipelines(args []string) ([]pipelineSpec, error) {
	if len(args) == 0 {
		return pipelines, nil
	}
	for _, p := range pipelines {
		if p.name == args[0] {
			return []pipelineSpec{p}, nil
		}
	}
	return nil, fmt.Errorf("unknown pipeline %q (want one of %v)", args[0], pipelineNames())
}

func runRuns(cmd *cobra.Command, opts *options, args []string) error {
	selected, err := selectPipelines(args)
	if err != nil {
		return err
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	paths := pipeline.Paths{Temp: cfg.TempDir(), Log: cfg.LogDir()}
	for _, p := range selected {
		def, err := p.definition(cfg)
		if err != nil {
			return err
		}
		runs, err := pipeline.Candidates(paths, p.name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.Runs(p.name, runs, len(def.Stages), time.Now()))
	}
	return nil
}

func runStages(cmd *cobra.Command, opts *options, args []string) error {
	selected, err := selectPipelines(args)
	if err != nil {
		return err
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	for _, p := range selected {
		def, err := p.definition(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tui.Stages(def))
	}
	return nil
}

func runPipeline(cmd *cobra.Command, opts *options, p pipelineSpec, point string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	def, err := p.definition(cfg)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogDir())
	if err != nil {
		return err
	}
	defer logger.Close()
	if opts.verbose {
		logger.Echo(cmd.ErrOrStderr())
	}

	orchOpts := []pipeline.Option{
		pipeline.WithWorkers(cfg.Workers()),
		pipeline.WithLogger(logger),
		pipeline.WithRunID(opts.runID),
		pipeline.WithFresh(opts.fresh),
	}
	if interactive() {
		orchOpts = append(orchOpts, pipeline.WithSelector(tui.NewSelector(p.name, len(def.Stages))))
	}
	orch, err := pipeline.Open(def, pipeline.Paths{Temp: cfg.TempDir(), Log: cfg.LogDir()}, orchOpts...)
	if err != nil {
		return err
	}
	verb := "Starting"
	if orch.Resumed() {
		verb = "Resuming"
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", verb, orch.RunID())

	res, runErr := orch.Run(cmd.Context(), pipeline.RunRequest{ResumePoint: point})
	if len(res.Stages) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), tui.Summary(res))
		if last := res.Stages[len(res.Stages)-1]; last.Status == pipeline.StatusStopped {
			if panel := tui.LogPanel(last.LogPath, 8); panel != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), panel)
			}
		}
	}
	return runErr
}
