package forward

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/pipeline"
)

// writeSong writes a two-track file: a conductor track with tempo and meter
// and an instrument track playing two notes with the given program.
func writeSong(t *testing.T, path string, programs ...uint8) {
	t.Helper()
	s := smf.NewSMF1()
	s.TimeFormat = smf.MetricTicks(480)

	var conductor smf.Track
	conductor.Add(0, []byte{0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20})
	conductor.Add(0, []byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08})
	conductor.Close(0)

	var piano smf.Track
	for _, p := range programs {
		piano.Add(0, midi.ProgramChange(0, p))
	}
	piano.Add(0, midi.NoteOn(0, 60, 100))
	piano.Add(480, midi.NoteOff(0, 60))
	piano.Add(0, midi.NoteOn(0, 64, 90))
	piano.Add(480, midi.NoteOff(0, 64))
	piano.Close(0)

	for _, tr := range []smf.Track{conductor, piano} {
		if err := s.Add(tr); err != nil {
			t.Fatalf("add track: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newDataRoot(t *testing.T) *config.Config {
	t.Helper()
	root := filepath.Join(t.TempDir(), "data")
	if err := config.InitDataDir(root); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.NewConfig(root, "")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestPreprocessPipelineEndToEnd(t *testing.T) {
	cfg := newDataRoot(t)
	writeSong(t, filepath.Join(cfg.RawDir(), "nocturne.mid"), 0)
	writeSong(t, filepath.Join(cfg.RawDir(), "organ.mid"), 19)
	writeSong(t, filepath.Join(cfg.RawDir(), "duet.mid"), 0, 1)
	if err := os.WriteFile(filepath.Join(cfg.RawDir(), "notes.txt"), []byte("not midi"), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := Definition(cfg)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	if !reflect.DeepEqual(def.StageNames(), Names) {
		t.Fatalf("stage order = %v", def.StageNames())
	}
	o, err := pipeline.Open(def, pipeline.Paths{Temp: cfg.TempDir(), Log: cfg.LogDir()}, pipeline.WithWorkers(2))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := o.Run(context.Background(), pipeline.RunRequest{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	merge := res.Stages[0].Report
	if !reflect.DeepEqual(merge.Succeeded, []string{"nocturne.mid"}) {
		t.Fatalf("merge succeeded = %v", merge.Succeeded)
	}
	var failed []string
	for _, f := range merge.Failed {
		failed = append(failed, f.File)
	}
	if !reflect.DeepEqual(failed, []string{"duet.mid", "notes.txt", "organ.mid"}) {
		t.Fatalf("merge failed = %v", failed)
	}
	log, err := os.ReadFile(res.Stages[0].LogPath)
	if err != nil || !strings.Contains(string(log), "organ.mid: program 19 is outside 0-7") {
		t.Fatalf("merge log = %q, %v", log, err)
	}

	table, err := os.ReadFile(filepath.Join(cfg.PreprocessedDir(), "nocturne.csv"))
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	want := "delta_time,pitch,duration\n0,60,380\n380,64,380\n"
	if string(table) != want {
		t.Fatalf("table = %q, want %q", table, want)
	}
	if res.Stages[1].Report.Outputs[0] != "nocturne.csv" {
		t.Fatalf("convert output = %v", res.Stages[1].Report.Outputs)
	}
}

func TestPreprocessResumeFromScaleIsByteIdentical(t *testing.T) {
	cfg := newDataRoot(t)
	writeSong(t, filepath.Join(cfg.RawDir(), "etude.mid"), 2)
	paths := pipeline.Paths{Temp: cfg.TempDir(), Log: cfg.LogDir()}
	def, err := Definition(cfg)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	run := func(point string) pipeline.Result {
		o, err := pipeline.Open(def, paths)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		res, err := o.Run(context.Background(), pipeline.RunRequest{ResumePoint: point})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}
	first := run("")
	before, _ := os.ReadFile(filepath.Join(cfg.PreprocessedDir(), "etude.csv"))
	second := run(ScaleTimingsStage)
	after, _ := os.ReadFile(filepath.Join(cfg.PreprocessedDir(), "etude.csv"))
	if !bytes.Equal(before, after) || len(before) == 0 {
		t.Fatalf("outputs differ: %q vs %q", before, after)
	}
	for i := range Names {
		same := first.Stages[i].RunID == second.Stages[i].RunID
		if i < 4 && !same {
			t.Fatalf("stage %s should have been reused", Names[i])
		}
		if i >= 4 && same {
			t.Fatalf("stage %s should have been recomputed", Names[i])
		}
	}
}
