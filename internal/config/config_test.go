package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	c, err := NewConfig(root, "")
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Settings.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Settings.Version)
	}
	if c.Settings.Timing.TargetResolution != 380 || c.Settings.Timing.TargetTempo != 500000 {
		t.Fatalf("unexpected timing defaults: %+v", c.Settings.Timing)
	}
	if c.Settings.Reverse.ReleaseSlot != 62 || c.Settings.Reverse.ReleasePitch != ReleaseFixed {
		t.Fatalf("unexpected reverse defaults: %+v", c.Settings.Reverse)
	}
	if c.Workers() < 1 {
		t.Fatalf("workers should resolve to at least one")
	}
	if c.Path != filepath.Join(root, FileName) {
		t.Fatalf("path = %s", c.Path)
	}
}

func TestInitDataDirWritesParsableDefaults(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	if err := InitDataDir(root); err != nil {
		t.Fatalf("init: %v", err)
	}
	c, err := NewConfig(root, "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	for _, dir := range []string{c.RawDir(), c.TempDir(), c.LogDir(), c.PreprocessedDir(), c.GeneratedDir(), c.OutputDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if c.Settings.Instruments.ProgramMax != 7 || c.Settings.Reverse.ReleaseSlot != 62 {
		t.Fatalf("unexpected settings %+v", c.Settings)
	}
	if err := os.WriteFile(c.Path, []byte("version: 1\nworkers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitDataDir(root); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	data, _ := os.ReadFile(c.Path)
	if !strings.Contains(string(data), "workers: 3") {
		t.Fatalf("init must not overwrite an existing config")
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	root := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
workers: 4
timing:
  target_resolution: 96
instruments:
  program_min: 0
  program_max: 0
reverse:
  velocity: 90
  release_pitch: " Paired "
  release_slot: 0
`)
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(root, "")
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Workers() != 4 {
		t.Fatalf("workers = %d", c.Workers())
	}
	if c.Settings.Timing.TargetResolution != 96 || c.Settings.Timing.TargetTempo != 500000 {
		t.Fatalf("timing = %+v", c.Settings.Timing)
	}
	if c.Settings.Instruments.ProgramMax != 0 {
		t.Fatalf("instruments = %+v", c.Settings.Instruments)
	}
	if c.Settings.Reverse.ReleasePitch != ReleasePaired || c.Settings.Reverse.Velocity != 90 {
		t.Fatalf("reverse = %+v", c.Settings.Reverse)
	}
	if c.Settings.Reverse.ReleaseSlot != 0 {
		t.Fatalf("explicit release slot 0 must be kept, got %d", c.Settings.Reverse.ReleaseSlot)
	}
}

func TestNewConfigValidation(t *testing.T) {
	cases := map[string]string{
		"release pitch": "reverse:\n  release_pitch: nearest\n",
		"velocity":      "reverse:\n  velocity: 200\n",
		"program range": "instruments:\n  program_min: 5\n  program_max: 2\n",
		"workers":       "workers: -2\n",
		"malformed":     "timing: [",
	}
	for name, body := range cases {
		root := t.TempDir()
		if err := os.WriteFile(filepath.Join(root, FileName), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewConfig(root, ""); err == nil {
			t.Fatalf("%s: expected validation error but got none", name)
		}
	}
}

func TestDefaultRootHonorsEnvironment(t *testing.T) {
	t.Setenv(RootEnv, "/srv/midi")
	if got := DefaultRoot(); got != "/srv/midi" {
		t.Fatalf("DefaultRoot = %s", got)
	}
	t.Setenv(RootEnv, "")
	if got := DefaultRoot(); got != "data" {
		t.Fatalf("DefaultRoot = %s", got)
	}
}
