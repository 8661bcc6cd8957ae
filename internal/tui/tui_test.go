package tui

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/tickflow/internal/ledger"
	"github.com/kingrea/tickflow/internal/logbook"
	"github.com/kingrea/tickflow/internal/pipeline"
	"github.com/kingrea/tickflow/internal/stage"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRuns() []ledger.Ledger {
	newer := ledger.New("preprocess", "preprocess-20240301-114500-aaaaaa")
	newer.Record(ledger.Entry{Stage: "merge_midi_tracks", RunID: "merge_midi_tracks_111111"})
	newer.Record(ledger.Entry{Stage: "convert_midis_to_csv", RunID: "convert_midis_to_csv_222222"})
	newer.UpdatedAt = now.Add(-15 * time.Minute)
	older := ledger.New("preprocess", "preprocess-20240229-090000-bbbbbb")
	older.UpdatedAt = now.Add(-27 * time.Hour)
	return []ledger.Ledger{newer, older}
}

func drive(t *testing.T, p *picker, msgs ...tea.Msg) *picker {
	t.Helper()
	var model tea.Model = p
	for _, msg := range msgs {
		model, _ = model.Update(msg)
	}
	out, ok := model.(*picker)
	if !ok {
		t.Fatalf("unexpected model %T", model)
	}
	return out
}

func TestRunItemDescription(t *testing.T) {
	item := runItem{run: sampleRuns()[0], stages: 8, now: now}
	desc := item.Description()
	for _, want := range []string{"2/8 stages done", "last convert_midis_to_csv", "15 minutes ago"} {
		if !strings.Contains(desc, want) {
			t.Fatalf("description %q missing %q", desc, want)
		}
	}
}

func TestPickerSelectsHighlightedRun(t *testing.T) {
	size := tea.WindowSizeMsg{Width: 100, Height: 30}
	p := drive(t, newPicker("preprocess", sampleRuns(), 8, now), size, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyEnter})
	if p.cancelled || p.choice != "preprocess-20240229-090000-bbbbbb" {
		t.Fatalf("choice = %q cancelled=%v", p.choice, p.cancelled)
	}
	if view := p.View(); !strings.Contains(view, "TICKFLOW") {
		t.Fatalf("view missing header: %q", view)
	}
}

func TestPickerCancel(t *testing.T) {
	p := drive(t, newPicker("preprocess", sampleRuns(), 8, now), tea.KeyMsg{Type: tea.KeyEsc})
	if !p.cancelled || p.choice != "" {
		t.Fatalf("expected cancellation, got choice %q", p.choice)
	}
}

func TestSelectorWithoutCandidates(t *testing.T) {
	sel := NewSelector("preprocess", 8)
	if _, err := sel(nil); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestSummaryListsStagesAndFailures(t *testing.T) {
	res := pipeline.Result{
		Pipeline:      "preprocess",
		PipelineRunID: "preprocess-20240301-114500-aaaaaa",
		TurnIn:        "/data/preprocessed",
		Orphans:       []string{"scale_timings_aaaaaa", "scale_timings_bbbbbb"},
		Stages: []pipeline.StageOutcome{
			{Stage: "merge_midi_tracks", RunID: "merge_midi_tracks_111111", Status: pipeline.StatusSkipped},
			{
				Stage:   "convert_midis_to_csv",
				RunID:   "convert_midis_to_csv_333333",
				Status:  pipeline.StatusExecuted,
				Elapsed: 1500 * time.Millisecond,
				LogPath: "/data/log/convert_midis_to_csv_333333",
				Report: stage.Report{
					Succeeded: []string{"a.mid", "b.mid"},
					Failed:    []stage.FileFailure{{File: "bad.mid", Reason: "boom"}},
					Bytes:     2048,
				},
			},
		},
	}
	out := Summary(res)
	for _, want := range []string{
		"PREPROCESS",
		"reused merge_midi_tracks_111111",
		"2 ok, 1 failed",
		"2.0 kB",
		"✗ bad.mid: boom",
		"turned in to /data/preprocessed",
		"removed 2 stale stage directories",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestElapsed(t *testing.T) {
	if got := Elapsed(200 * time.Microsecond); got != "<1ms" {
		t.Fatalf("Elapsed(200µs) = %q", got)
	}
	if got := Elapsed(90 * time.Second); !strings.Contains(got, "1 m") {
		t.Fatalf("Elapsed(90s) = %q", got)
	}
}

func TestRuns(t *testing.T) {
	out := Runs("preprocess", sampleRuns(), 8, now)
	if !strings.Contains(out, "preprocess-20240229-090000-bbbbbb") || !strings.Contains(out, "0/8 stages done") {
		t.Fatalf("runs output:\n%s", out)
	}
	if out := Runs("back_to_midi", nil, 5, now); !strings.Contains(out, "no back_to_midi runs") {
		t.Fatalf("empty runs output: %q", out)
	}
}

func TestLogPanelShowsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "merge_midi_tracks_abcdef")
	book, err := logbook.New(path)
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	for i := 0; i < 4; i++ {
		book.Failure("song.mid", errors.New("no notes"))
	}
	book.Error("stopped: %v", "context canceled")
	out := LogPanel(path, 2)
	for _, want := range []string{"LOG · merge_midi_tracks_abcdef", "last 2 of 5", "stopped: context canceled"} {
		if !strings.Contains(out, want) {
			t.Fatalf("panel missing %q:\n%s", want, out)
		}
	}
	if LogPanel(filepath.Join(t.TempDir(), "absent"), 5) != "" {
		t.Fatalf("expected empty panel for a missing log")
	}
}
