// Package forward implements the preprocess pipeline: raw Standard MIDI
// Files in, delta_time,pitch,duration feature tables out.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/event"
	"github.com/kingrea/tickflow/internal/midicsv"
	"github.com/kingrea/tickflow/internal/pipeline"
	"github.com/kingrea/tickflow/internal/stage"
)

// Pipeline is the class name of forward pipeline runs.
const Pipeline = "preprocess"

// Stage names in execution order.
const (
	MergeMidiTracks        = "merge_midi_tracks"
	ConvertMidisToCSV      = "convert_midis_to_csv"
	RemoveMetaData         = "remove_meta_data"
	PreprocessNotes        = "preprocess_notes"
	ScaleTimingsStage      = "scale_timings"
	CalculateNoteDurations = "calculate_note_durations"
	CalculateDeltaTimes    = "calculate_delta_times"
	FinalizePreprocess     = "finalize_preprocess"
)

// Names lists the forward stages in order.
var Names = []string{
	MergeMidiTracks,
	ConvertMidisToCSV,
	RemoveMetaData,
	PreprocessNotes,
	ScaleTimingsStage,
	CalculateNoteDurations,
	CalculateDeltaTimes,
	FinalizePreprocess,
}

// Register installs every forward stage configured from settings.
func Register(reg *stage.Registry, settings config.Settings) error {
	stages := []stage.Stage{
		stage.PerFile{
			StageInfo: stage.Info{Name: MergeMidiTracks, Description: "Keep single-program piano files and merge their tracks"},
			Transform: mergeTransform(settings.Instruments),
		},
		stage.PerFile{
			StageInfo: stage.Info{Name: ConvertMidisToCSV, Description: "Decode MIDI into event lines"},
			Transform: convertTransform,
		},
		stage.Lines(stage.Info{Name: RemoveMetaData, Description: "Drop metadata events"}, RemoveMetadata),
		stage.Records(stage.Info{Name: PreprocessNotes, Description: "Rewrite note-offs as zero velocity note-ons"}, func(r []event.Record) ([]event.Record, error) {
			return UnifyNoteOffs(r), nil
		}),
		stage.Records(stage.Info{Name: ScaleTimingsStage, Description: "Rescale ticks to the target resolution and tempo"}, func(r []event.Record) ([]event.Record, error) {
			return ScaleTimings(r, settings.Timing)
		}),
		stage.Records(stage.Info{Name: CalculateNoteDurations, Description: "Pair notes with their releases"}, func(r []event.Record) ([]event.Record, error) {
			return PairDurations(r), nil
		}),
		stage.Records(stage.Info{Name: CalculateDeltaTimes, Description: "Convert absolute ticks to deltas"}, func(r []event.Record) ([]event.Record, error) {
			return DeltaTimes(r), nil
		}),
		stage.PerFile{
			StageInfo: stage.Info{Name: FinalizePreprocess, Description: "Project notes onto feature tables"},
			Transform: finalizeTransform,
		},
	}
	for _, st := range stages {
		if err := reg.Register(st); err != nil {
			return err
		}
	}
	return nil
}

// Definition builds the preprocess pipeline for a data root.
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
		Source: cfg.RawDir(),
		TurnIn: cfg.PreprocessedDir(),
	}, nil
}

func mergeTransform(instruments config.Instruments) stage.Transform {
	return func(_ context.Context, src, dstDir string) (string, error) {
		s, err := midicsv.ReadFile(src)
		if err != nil {
			return "", err
		}
		programs := midicsv.Programs(s)
		if len(programs) != 1 {
			return "", fmt.Errorf("expected exactly one instrument program, found %v", programs)
		}
		if p := programs[0]; p < instruments.ProgramMin || p > instruments.ProgramMax {
			return "", fmt.Errorf("program %d is outside %d-%d", p, instruments.ProgramMin, instruments.ProgramMax)
		}
		merged, err := midicsv.Merge(s)
		if err != nil {
			return "", err
		}
		name := filepath.Base(src)
		return name, midicsv.WriteFile(filepath.Join(dstDir, name), merged)
	}
}

func convertTransform(_ context.Context, src, dstDir string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	lines, err := midicsv.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	name := csvName(filepath.Base(src))
	return name, event.WriteLines(filepath.Join(dstDir, name), lines)
}

func csvName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".csv"
}

func finalizeTransform(_ context.Context, src, dstDir string) (string, error) {
	records, err := event.ReadRecords(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := event.WriteTable(&buf, Finalize(records)); err != nil {
		return "", err
	}
	name := filepath.Base(src)
	return name, os.WriteFile(filepath.Join(dstDir, name), buf.Bytes(), 0o644)
}
