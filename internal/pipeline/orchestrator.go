// Package pipeline sequences stages over the staging tree, skipping stages
// the ledger says are done and recomputing from a resume point onwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/tickflow/internal/ledger"
	"github.com/kingrea/tickflow/internal/logbook"
	"github.com/kingrea/tickflow/internal/logging"
	"github.com/kingrea/tickflow/internal/stage"
	"github.com/kingrea/tickflow/internal/staging"
)

var (
	// ErrMissingPredecessor aborts a run when a stage's input stage run
	// cannot be resolved.
	ErrMissingPredecessor = errors.New("pipeline: predecessor stage output is unresolved")
	// ErrAmbiguousResume is returned by Open when several runs could be
	// resumed and no selector was supplied.
	ErrAmbiguousResume = errors.New("pipeline: several resumable runs")
	// ErrUnknownResumePoint is returned when a resume point names no stage.
	ErrUnknownResumePoint = errors.New("pipeline: unknown resume point")
)

// Definition is a pipeline class: its ordered stages, where the first stage
// reads from and where the final output is turned in.
type Definition struct {
	Name   string
	Stages []stage.Stage
	Source string
	TurnIn string
}

// Validate ensures the definition can be run.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" || strings.ContainsAny(d.Name, `/\ `) {
		return fmt.Errorf("pipeline: invalid pipeline name %q", d.Name)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline: %s has no stages", d.Name)
	}
	if d.Source == "" || d.TurnIn == "" {
		return fmt.Errorf("pipeline: %s needs source and turn-in directories", d.Name)
	}
	seen := map[string]struct{}{}
	for _, st := range d.Stages {
		if st == nil {
			return fmt.Errorf("pipeline: %s has a nil stage", d.Name)
		}
		info := st.Info()
		if err := info.Validate(); err != nil {
			return err
		}
		if _, dup := seen[info.Name]; dup {
			return fmt.Errorf("pipeline: stage %s listed twice", info.Name)
		}
		seen[info.Name] = struct{}{}
	}
	return nil
}

// StageNames lists the stage names in order.
func (d Definition) StageNames() []string {
	names := make([]string, len(d.Stages))
	for i, st := range d.Stages {
		names[i] = st.Info().Name
	}
	return names
}

// Paths locates the staging tree and the per-stage logs.
type Paths struct {
	Temp string
	Log  string
}

// Selector picks one pipeline run id among several resumable candidates.
type Selector func(candidates []ledger.Ledger) (string, error)

// Orchestrator owns one pipeline run: its ledger and its staging directory.
type Orchestrator struct {
	def     Definition
	paths   Paths
	store   *staging.Store
	repo    ledger.Store
	ledger  ledger.Ledger
	resumed bool

	selector Selector
	runID    string
	fresh    bool
	workers  int
	logger   *logging.Logger
	clock    func() time.Time
	newID    func() string
}

// Option customizes the orchestrator instance.
type Option func(*Orchestrator)

// WithSelector supplies the callback used when several runs are resumable.
func WithSelector(sel Selector) Option {
	return func(o *Orchestrator) {
		o.selector = sel
	}
}

// WithRunID resumes (or starts) the named pipeline run, bypassing discovery.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = strings.TrimSpace(id)
	}
}

// WithFresh declines resuming and always starts a new pipeline run.
func WithFresh(fresh bool) Option {
	return func(o *Orchestrator) {
		o.fresh = fresh
	}
}

// WithWorkers bounds the per-file worker pool of every stage.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger routes run progress to the run log.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDSource overrides the random suffix used for run ids.
func WithIDSource(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newID = next
		}
	}
}

// Open resolves which pipeline run to continue, or starts a new one.
func Open(def Definition, paths Paths, opts ...Option) (*Orchestrator, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if paths.Temp == "" || paths.Log == "" {
		return nil, fmt.Errorf("pipeline: temp and log directories are required")
	}
	o := &Orchestrator{
		def:     def,
		paths:   paths,
		store:   staging.New(paths.Temp),
		workers: 1,
		clock:   time.Now,
		newID:   randomSuffix,
	}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case o.runID != "":
		if err := o.adopt(o.runID); err != nil {
			return nil, err
		}
	case o.fresh:
		o.start()
	default:
		candidates, err := ledger.Discover(paths.Temp, def.Name)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			o.start()
		case 1:
			o.use(candidates[0])
		default:
			chosen, err := o.choose(candidates)
			if err != nil {
				return nil, err
			}
			o.use(chosen)
		}
	}
	return o, nil
}

// Candidates lists the resumable runs of a pipeline class.
func Candidates(paths Paths, pipeline string) ([]ledger.Ledger, error) {
	return ledger.Discover(paths.Temp, pipeline)
}

// RunID returns the pipeline run id.
func (o *Orchestrator) RunID() string {
	return o.ledger.PipelineRunID
}

// Resumed reports whether Open adopted an existing ledger.
func (o *Orchestrator) Resumed() bool {
	return o.resumed
}

// Ledger returns a copy of the current ledger.
func (o *Orchestrator) Ledger() ledger.Ledger {
	return o.ledger.Clone()
}

func (o *Orchestrator) start() {
	id := fmt.Sprintf("%s-%s-%s", o.def.Name, o.clock().UTC().Format("20060102-150405"), o.newID())
	o.ledger = ledger.New(o.def.Name, id)
	o.repo = ledger.NewRepository(o.paths.Temp, id)
	o.resumed = false
	o.logger.Printf("%s: starting run %s", o.def.Name, id)
}

func (o *Orchestrator) use(l ledger.Ledger) {
	o.ledger = l
	o.repo = ledger.NewRepository(o.paths.Temp, l.PipelineRunID)
	o.resumed = true
	o.logger.Printf("%s: resuming run %s (%d stages recorded)", o.def.Name, l.PipelineRunID, len(l.Entries))
}

func (o *Orchestrator) adopt(id string) error {
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("pipeline: invalid run id %q", id)
	}
	repo := ledger.NewRepository(o.paths.Temp, id)
	l, err := repo.Load()
	switch {
	case err == nil:
		if l.Pipeline != o.def.Name {
			return fmt.Errorf("pipeline: run %s belongs to %s, not %s", id, l.Pipeline, o.def.Name)
		}
		o.use(l)
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrCorrupt):
		o.logger.Printf("%s: no usable ledger for %s (%v); starting it from scratch", o.def.Name, id, err)
		o.ledger = ledger.New(o.def.Name, id)
		o.repo = repo
	default:
		return fmt.Errorf("pipeline: load ledger %s: %w", id, err)
	}
	return nil
}

func (o *Orchestrator) choose(candidates []ledger.Ledger) (ledger.Ledger, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.PipelineRunID
	}
	if o.selector == nil {
		return ledger.Ledger{}, fmt.Errorf("%w: %s", ErrAmbiguousResume, strings.Join(ids, ", "))
	}
	picked, err := o.selector(candidates)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("pipeline: select run: %w", err)
	}
	for _, c := range candidates {
		if c.PipelineRunID == picked {
			return c, nil
		}
	}
	return ledger.Ledger{}, fmt.Errorf("pipeline: selected run %q is not a candidate (%s)", picked, strings.Join(ids, ", "))
}

// RunRequest parameterizes one invocation.
type RunRequest struct {
	// ResumePoint is a stage name or 1-based stage position. That stage and
	// every later one are recomputed. Empty means resume where the ledger
	// left off.
	ResumePoint string
}

// Status tells how a stage fared in a run.
// Stopped stages are never recorded in the ledger.
type Status string

const (
	StatusSkipped  Status = "skipped"
	StatusExecuted Status = "executed"
	StatusStopped  Status = "stopped"
)

// StageOutcome reports what happened to one stage.
type StageOutcome struct {
	Stage   string
	RunID   string
	Status  Status
	Report  stage.Report
	Elapsed time.Duration
	LogPath string
}

// Result summarizes a run.
type Result struct {
	Pipeline      string
	PipelineRunID string
	FinalRunID    string
	TurnIn        string
	Stages        []StageOutcome
	Orphans       []string
}

// ResumeIndex converts a resume point into a 0-based stage index; -1 means
// no resume point.
func (d Definition) ResumeIndex(point string) (int, error) {
	point = strings.TrimSpace(point)
	if point == "" {
		return -1, nil
	}
	names := d.StageNames()
	if n, err := strconv.Atoi(point); err == nil {
		if n >= 1 && n <= len(names) {
			return n - 1, nil
		}
	} else {
		for i, name := range names {
			if name == point {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w %q: use a stage name or 1-%d (%s)", ErrUnknownResumePoint, point, len(names), strings.Join(names, ", "))
}

// Run executes the pipeline. The ledger is checkpointed after every stage
// and persisted, followed by orphan collection, however the run ends.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (Result, error) {
	forceAt, err := o.def.ResumeIndex(req.ResumePoint)
	if err != nil {
		return Result{}, err
	}
	runID := o.RunID()
	result := Result{Pipeline: o.def.Name, PipelineRunID: runID}

	var (
		runErr  error
		force   bool
		prevID  string
		prevDir = o.def.Source
	)
	for i, st := range o.def.Stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		name := st.Info().Name
		if i == forceAt {
			force = true
			o.logger.Printf("%s: recomputing from %s", o.def.Name, name)
		}
		if !force {
			if entry, ok := o.ledger.Lookup(name); ok && o.store.Exists(runID, entry.RunID) {
				o.logger.Printf("%s: %s already done as %s", o.def.Name, name, entry.RunID)
				result.Stages = append(result.Stages, StageOutcome{
					Stage:   name,
					RunID:   entry.RunID,
					Status:  StatusSkipped,
					Report:  stage.Report{Outputs: append([]string(nil), entry.Files...)},
					LogPath: filepath.Join(o.paths.Log, entry.RunID),
				})
				prevID, prevDir = entry.RunID, o.store.StageDir(runID, entry.RunID)
				continue
			}
			force = true
		}
		if i > 0 && !o.store.Exists(runID, prevID) {
			runErr = fmt.Errorf("%w: %s needs the output of %s", ErrMissingPredecessor, name, o.def.Stages[i-1].Info().Name)
			break
		}
		outcome, err := o.execute(ctx, st, prevDir)
		if err != nil {
			if outcome.RunID != "" {
				outcome.Status = StatusStopped
				result.Stages = append(result.Stages, outcome)
			}
			runErr = err
			break
		}
		result.Stages = append(result.Stages, outcome)
		o.invalidateFrom(i)
		o.ledger.Record(ledger.Entry{
			Stage:       name,
			RunID:       outcome.RunID,
			Files:       outcome.Report.Outputs,
			CompletedAt: o.clock().UTC(),
		})
		if err := o.checkpoint(); err != nil {
			runErr = err
			break
		}
		prevID, prevDir = outcome.RunID, o.store.StageDir(runID, outcome.RunID)
	}
	result.FinalRunID = prevID

	if runErr == nil {
		if err := staging.TurnIn(prevDir, o.def.TurnIn); err != nil {
			runErr = fmt.Errorf("pipeline: turn in: %w", err)
		} else {
			result.TurnIn = o.def.TurnIn
			o.logger.Printf("%s: turned in %s to %s", o.def.Name, prevID, o.def.TurnIn)
		}
	}
	orphans, finishErr := o.finish()
	result.Orphans = orphans
	if runErr != nil {
		o.logger.Printf("%s: run %s stopped: %v", o.def.Name, runID, runErr)
		return result, runErr
	}
	return result, finishErr
}

// invalidateFrom drops the ledger entries of stage i and every later stage
// so no downstream entry outlives its recomputed input. It runs only once
// stage i has a replacement, so a failed recompute leaves the previous
// entries and their directories in place.
func (o *Orchestrator) invalidateFrom(i int) {
	names := o.def.StageNames()[i:]
	if o.ledger.Drop(names...) {
		o.logger.Printf("%s: invalidated %s onwards", o.def.Name, names[0])
	}
}

func (o *Orchestrator) execute(ctx context.Context, st stage.Stage, input string) (StageOutcome, error) {
	name := st.Info().Name
	stageRunID := o.mintStageRunID(name)
	dir, err := o.store.Create(o.RunID(), stageRunID)
	if err != nil {
		return StageOutcome{}, err
	}
	logPath := filepath.Join(o.paths.Log, stageRunID)
	book, err := logbook.New(logPath)
	if err != nil {
		return StageOutcome{}, fmt.Errorf("pipeline: stage log: %w", err)
	}
	o.logger.Printf("%s: running %s as %s", o.def.Name, name, stageRunID)
	book.Info("%s started on %s with %d workers", stageRunID, input, o.workers)
	started := o.clock()
	report, err := st.Run(ctx, stage.Job{
		RunID:     stageRunID,
		InputDir:  input,
		OutputDir: dir,
		Workers:   o.workers,
		Log:       book,
	})
	outcome := StageOutcome{
		Stage:   name,
		RunID:   stageRunID,
		Status:  StatusExecuted,
		Report:  report,
		Elapsed: o.clock().Sub(started),
		LogPath: logPath,
	}
	if err != nil {
		book.Error("stopped: %v", err)
		return outcome, fmt.Errorf("pipeline: stage %s: %w", name, err)
	}
	book.Info("%d succeeded, %d failed", len(report.Succeeded), len(report.Failed))
	o.logger.Printf("%s: %s wrote %d files, %d failed", o.def.Name, stageRunID, len(report.Outputs), len(report.Failed))
	return outcome, nil
}

func (o *Orchestrator) mintStageRunID(name string) string {
	for {
		id := name + "_" + o.newID()
		if _, err := os.Stat(o.store.StageDir(o.RunID(), id)); errors.Is(err, os.ErrNotExist) {
			return id
		}
	}
}

func (o *Orchestrator) checkpoint() error {
	o.ledger.UpdatedAt = o.clock().UTC()
	if err := o.repo.Save(o.ledger); err != nil {
		return fmt.Errorf("pipeline: checkpoint ledger: %w", err)
	}
	return nil
}

func (o *Orchestrator) finish() ([]string, error) {
	if err := o.checkpoint(); err != nil {
		return nil, err
	}
	orphans, err := o.store.CollectOrphans(o.RunID(), o.ledger.RunIDs())
	if len(orphans) > 0 {
		o.logger.Printf("%s: collected orphans %s", o.def.Name, strings.Join(orphans, ", "))
	}
	if err != nil {
		return orphans, fmt.Errorf("pipeline: collect orphans: %w", err)
	}
	return orphans, nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
