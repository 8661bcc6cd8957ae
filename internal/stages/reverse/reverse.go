// Package reverse implements the back_to_midi pipeline: generated feature
// tables in, playable single-track MIDI files out.
package reverse

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/event"
	"github.com/kingrea/tickflow/internal/midicsv"
	"github.com/kingrea/tickflow/internal/pipeline"
	"github.com/kingrea/tickflow/internal/stage"
)

// Pipeline is the class name of reverse pipeline runs.
const Pipeline = "back_to_midi"

const (
	AddHeadersAndColsStage  = "add_headers_and_cols"
	CumulateDeltaTimesStage = "cumulate_delta_times"
	UnpackDurationsStage    = "unpack_durations"
	AddFinalHeadersStage    = "add_final_headers"
	ConvertBackToMidi       = "convert_back_to_midi"
)

// Names lists the reverse stages in order.
var Names = []string{
	AddHeadersAndColsStage,
	CumulateDeltaTimesStage,
	UnpackDurationsStage,
	AddFinalHeadersStage,
	ConvertBackToMidi,
}

// Register installs every reverse stage configured from settings.
func Register(reg *stage.Registry, settings config.Settings) error {
	stages := []stage.Stage{
		stage.PerFile{
			StageInfo: stage.Info{Name: AddHeadersAndColsStage, Description: "Expand feature rows into note lines"},
			Transform: headersTransform(settings.Reverse),
		},
		stage.PerFile{
			StageInfo: stage.Info{Name: CumulateDeltaTimesStage, Description: "Convert deltas to absolute ticks"},
			Transform: cumulateTransform,
		},
		stage.Records(stage.Info{Name: UnpackDurationsStage, Description: "Emit releases from note durations"}, func(r []event.Record) ([]event.Record, error) {
			return UnpackDurations(r, settings.Reverse), nil
		}),
		stage.Records(stage.Info{Name: AddFinalHeadersStage, Description: "Frame notes as a complete track"}, func(r []event.Record) ([]event.Record, error) {
			return AddFinalHeaders(r, settings.Timing.TargetResolution, settings.Timing.TargetTempo), nil
		}),
		stage.PerFile{
			StageInfo: stage.Info{Name: ConvertBackToMidi, Description: "Encode event lines as MIDI"},
			Transform: encodeTransform,
		},
	}
	for _, st := range stages {
		if err := reg.Register(st); err != nil {
			return err
		}
	}
	return nil
}

// Definition builds the back_to_midi pipeline for a data root.
func Definition(cfg *config.Config) (pipeline.Definition, error) {
	reg := stage.NewRegistry()
	if err := Register(reg, cfg.Settings); err != nil {
		return pipeline.Definition{}, err
	}
	stages, err := reg.Resolve(Names...)
	if err != nil {
		return pipeline.Definition{}, err
	}
	return pipeline.Definition{
		Name:   Pipeline,
		Stages: stages,
		Source: cfg.GeneratedDir(),
		TurnIn: cfg.OutputDir(),
	}, nil
}

func headersTransform(rev config.Reverse) stage.Transform {
	return func(_ context.Context, src, dstDir string) (string, error) {
		f, err := os.Open(src)
		if err != nil {
			return "", err
		}
		defer f.Close()
		rows, err := event.ReadTable(f)
		if err != nil {
			return "", err
		}
		lines, err := AddHeadersAndCols(rows, rev)
		if err != nil {
			return "", err
		}
		name := filepath.Base(src)
		return name, event.WriteLines(filepath.Join(dstDir, name), lines)
	}
}

func cumulateTransform(_ context.Context, src, dstDir string) (string, error) {
	lines, err := event.ReadLines(src)
	if err != nil {
		return "", err
	}
	records, err := CumulateDeltaTimes(lines)
	if err != nil {
		return "", err
	}
	name := filepath.Base(src)
	return name, event.WriteRecords(filepath.Join(dstDir, name), records)
}

func encodeTransform(_ context.Context, src, dstDir string) (string, error) {
	lines, err := event.ReadLines(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := midicsv.Encode(lines, &buf); err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".mid"
	return name, os.WriteFile(filepath.Join(dstDir, name), buf.Bytes(), 0o644)
}
