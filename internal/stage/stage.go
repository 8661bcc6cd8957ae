// Package stage defines the contract shared by forward and reverse pipeline
// stages and the bounded per-file worker pool they run on.
package stage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/tickflow/internal/logbook"
)

// Info describes a stage's identity.
type Info struct {
	Name        string
	Description string
}

// Validate ensures the info block is well-formed. Names double as directory
// prefixes and resume points, so they may not contain separators or be
// purely numeric.
func (i Info) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("stage: name is required")
	}
	if strings.ContainsAny(i.Name, `/\ `) {
		return fmt.Errorf("stage: name %q may not contain separators", i.Name)
	}
	if _, err := strconv.Atoi(i.Name); err == nil {
		return fmt.Errorf("stage: name %q may not be numeric", i.Name)
	}
	return nil
}

// Job is the input of one stage run.
type Job struct {
	// RunID is the stage run id the output directory is named after.
	RunID     string
	InputDir  string
	OutputDir string
	// Workers bounds the per-file pool. Zero or negative means one.
	Workers int
	// Log receives one entry per failed file.
	Log *logbook.Logbook
}

// FileFailure names a file left out of a stage's output.
type FileFailure struct {
	File   string
	Reason string
}

// Report summarizes a stage run. Succeeded and Failed are sorted by input
// file name regardless of completion order.
type Report struct {
	Succeeded []string
	Outputs   []string
	Failed    []FileFailure
	Bytes     int64
}

// Stage is implemented by every pipeline step.
type Stage interface {
	Info() Info
	Run(ctx context.Context, job Job) (Report, error)
}

// Transform converts the file at src into dstDir and returns the name of the
// file it wrote.
type Transform func(ctx context.Context, src, dstDir string) (string, error)

// PerFile adapts a Transform into a Stage that maps every input file
// independently.
type PerFile struct {
	StageInfo Info
	Transform Transform
}

// Info implements Stage.
func (p PerFile) Info() Info {
	return p.StageInfo
}

// Run implements Stage.
func (p PerFile) Run(ctx context.Context, job Job) (Report, error) {
	return Map(ctx, job, p.Transform)
}
