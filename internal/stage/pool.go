package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/remeh/sizedwaitgroup"

	"github.com/kingrea/tickflow/internal/staging"
)

// Map runs fn over every file of job.InputDir on a pool of job.Workers
// goroutines. Per-file errors are recorded in the report and the stage log;
// only listing failures and context cancellation are returned as errors.
//
// Each file is transformed into its own scratch directory and moved into
// job.OutputDir in input order once the pool drains. A file whose output name
// was already taken by an earlier input fails instead of overwriting it.
func Map(ctx context.Context, job Job, fn Transform) (Report, error) {
	if fn == nil {
		return Report{}, fmt.Errorf("stage: transform is required")
	}
	names, err := staging.ListFiles(job.InputDir)
	if err != nil {
		return Report{}, err
	}
	scratch, err := os.MkdirTemp(job.OutputDir, ".work-")
	if err != nil {
		return Report{}, fmt.Errorf("stage: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)
	workers := job.Workers
	if workers <= 0 {
		workers = 1
	}

	type outcome struct {
		input  string
		dir    string
		output string
		err    error
	}
	var (
		mu       sync.Mutex
		outcomes []outcome
	)
	swg := sizedwaitgroup.New(workers)
	for i, name := range names {
		if err := swg.AddWithContext(ctx); err != nil {
			break
		}
		go func(name, dir string) {
			defer swg.Done()
			out, err := transformOne(ctx, fn, filepath.Join(job.InputDir, name), dir)
			mu.Lock()
			outcomes = append(outcomes, outcome{input: name, dir: dir, output: out, err: err})
			mu.Unlock()
		}(name, filepath.Join(scratch, strconv.Itoa(i)))
	}
	swg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].input < outcomes[j].input })
	var report Report
	owners := map[string]string{}
	for _, o := range outcomes {
		if o.err != nil && ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
			job.Log.Warn("%s: not processed, stage cancelled", o.input)
			continue
		}
		if o.err == nil {
			if owner, taken := owners[o.output]; taken {
				o.err = fmt.Errorf("output %s already written for %s", o.output, owner)
			} else if err := os.Rename(filepath.Join(o.dir, o.output), filepath.Join(job.OutputDir, o.output)); err != nil {
				o.err = fmt.Errorf("stage: place output: %w", err)
			}
		}
		if o.err != nil {
			report.Failed = append(report.Failed, FileFailure{File: o.input, Reason: o.err.Error()})
			job.Log.Failure(o.input, o.err)
			continue
		}
		owners[o.output] = o.input
		report.Succeeded = append(report.Succeeded, o.input)
		report.Outputs = append(report.Outputs, o.output)
		if info, err := os.Stat(filepath.Join(job.OutputDir, o.output)); err == nil {
			report.Bytes += info.Size()
		}
	}
	sort.Strings(report.Outputs)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// transformOne isolates a single file: a panic in a transform becomes that
// file's error and a failed file leaves no partial output behind.
func transformOne(ctx context.Context, fn Transform, src, dstDir string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage: transform panicked: %v", r)
		}
		if err != nil && out != "" {
			_ = os.Remove(filepath.Join(dstDir, out))
			out = ""
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("stage: scratch dir: %w", err)
	}
	out, err = fn(ctx, src, dstDir)
	if err == nil && out == "" {
		err = fmt.Errorf("stage: transform wrote no output")
	}
	return out, err
}
