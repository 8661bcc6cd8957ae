// Package config handles tickflow.yaml and the data directory layout every
// pipeline run works inside.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the settings file kept at the data root.
	FileName = "tickflow.yaml"

	// RootEnv overrides the default data root.
	RootEnv = "TICKFLOW_ROOT"

	defaultRoot = "data"

	ReleaseFixed  = "fixed"
	ReleasePaired = "paired"
)

const defaultSettingsYAML = `# tickflow configuration
version: 1

# Files processed in parallel within a stage. 0 uses one worker per CPU.
workers: 0

# Forward pipeline tick rescaling.
timing:
  target_resolution: 380   # ticks per beat written to every output
  target_tempo: 500000     # microseconds per beat; set on preprocessed and generated output
  initial_tempo: 500000    # tempo assumed until the first Tempo event

# Files using any other program (or more than one) are rejected.
instruments:
  program_min: 0
  program_max: 7

# Reverse pipeline note reconstruction.
reverse:
  velocity: 127            # used when a table has no velocity column
  release_pitch: fixed     # fixed | paired
  release_slot: 62         # pitch of release events when release_pitch is fixed
`

// Timing configures the scale_timings stage.
type Timing struct {
	TargetResolution int `yaml:"target_resolution"`
	TargetTempo      int `yaml:"target_tempo"`
	InitialTempo     int `yaml:"initial_tempo"`
}

// Instruments bounds the program range accepted by merge_midi_tracks.
type Instruments struct {
	ProgramMin int `yaml:"program_min"`
	ProgramMax int `yaml:"program_max"`
}

// Reverse configures the back_to_midi stages.
type Reverse struct {
	Velocity     int    `yaml:"velocity"`
	ReleasePitch string `yaml:"release_pitch"`
	ReleaseSlot  int    `yaml:"release_slot"`
}

// Settings models tickflow.yaml.
type Settings struct {
	Version     int         `yaml:"version"`
	Workers     int         `yaml:"workers"`
	Timing      Timing      `yaml:"timing"`
	Instruments Instruments `yaml:"instruments"`
	Reverse     Reverse     `yaml:"reverse"`
}

// Config holds the runtime configuration for a data root.
type Config struct {
	// Root is the data directory holding raw/, temp/, log/ and the outputs.
	Root string
	// Path is the settings file that was (or would be) loaded.
	Path string

	Settings Settings
}

// DefaultRoot returns $TICKFLOW_ROOT, falling back to ./data.
func DefaultRoot() string {
	if root := strings.TrimSpace(os.Getenv(RootEnv)); root != "" {
		return root
	}
	return defaultRoot
}

// InitDataDir creates the data directory structure and a default
// tickflow.yaml if none exists.
//
// Structure created:
// <root>/
// ├── raw/             <- source MIDI files
// ├── temp/            <- one directory per pipeline run
// ├── log/             <- run log and per stage run failure logs
// ├── preprocessed/    <- forward pipeline output
// ├── generated_csv/   <- feature tables to convert back
// └── output/          <- reverse pipeline output
func InitDataDir(root string) error {
	c := &Config{Root: root}
	for _, dir := range []string{c.RawDir(), c.TempDir(), c.LogDir(), c.PreprocessedDir(), c.GeneratedDir(), c.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureSettings(filepath.Join(root, FileName))
}

// NewConfig loads the settings for root. An empty path means
// <root>/tickflow.yaml; a missing file leaves the defaults in place.
func NewConfig(root, path string) (*Config, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("config: data root is required")
	}
	if path == "" {
		path = filepath.Join(root, FileName)
	}
	cfg := &Config{Root: filepath.Clean(root), Path: path, Settings: DefaultSettings()}
	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RawDir returns the forward pipeline source directory.
func (c *Config) RawDir() string {
	return filepath.Join(c.Root, "raw")
}

// TempDir returns the staging root.
func (c *Config) TempDir() string {
	return filepath.Join(c.Root, "temp")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.Root, "log")
}

// PreprocessedDir returns the forward pipeline turn-in directory.
func (c *Config) PreprocessedDir() string {
	return filepath.Join(c.Root, "preprocessed")
}

// GeneratedDir returns the reverse pipeline source directory.
func (c *Config) GeneratedDir() string {
	return filepath.Join(c.Root, "generated_csv")
}

// OutputDir returns the reverse pipeline turn-in directory.
func (c *Config) OutputDir() string {
	return filepath.Join(c.Root, "output")
}

// Workers returns the per-stage worker count, resolving 0 to the CPU count.
func (c *Config) Workers() int {
	if c.Settings.Workers > 0 {
		return c.Settings.Workers
	}
	return runtime.NumCPU()
}

// DefaultSettings returns the values written by InitDataDir.
func DefaultSettings() Settings {
	return Settings{
		Version: 1,
		Timing: Timing{
			TargetResolution: 380,
			TargetTempo:      500000,
			InitialTempo:     500000,
		},
		Instruments: Instruments{ProgramMin: 0, ProgramMax: 7},
		Reverse: Reverse{
			Velocity:     127,
			ReleasePitch: ReleaseFixed,
			ReleaseSlot:  62,
		},
	}
}

func (c *Config) loadSettings() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", c.Path, err)
	}

	// Keys absent from the file keep their default values.
	parsed := DefaultSettings()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.Path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Settings = parsed
	return nil
}

func (s *Settings) applyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
}

func (s *Settings) normalize() {
	s.Reverse.ReleasePitch = strings.ToLower(strings.TrimSpace(s.Reverse.ReleasePitch))
	if s.Reverse.ReleasePitch == "" {
		s.Reverse.ReleasePitch = ReleaseFixed
	}
}

func (s *Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if s.Timing.TargetResolution <= 0 || s.Timing.TargetResolution > 0x7FFF {
		return fmt.Errorf("timing.target_resolution must be between 1 and 32767")
	}
	if s.Timing.TargetTempo <= 0 || s.Timing.InitialTempo <= 0 {
		return fmt.Errorf("timing tempos must be positive")
	}
	in := s.Instruments
	if in.ProgramMin < 0 || in.ProgramMax > 127 || in.ProgramMin > in.ProgramMax {
		return fmt.Errorf("instruments: program range %d-%d is invalid", in.ProgramMin, in.ProgramMax)
	}
	if s.Reverse.Velocity < 1 || s.Reverse.Velocity > 127 {
		return fmt.Errorf("reverse.velocity must be between 1 and 127")
	}
	switch s.Reverse.ReleasePitch {
	case ReleaseFixed, ReleasePaired:
	default:
		return fmt.Errorf("reverse.release_pitch must be '%s' or '%s'", ReleaseFixed, ReleasePaired)
	}
	if slot := s.Reverse.ReleaseSlot; slot < 0 || slot > 127 {
		return fmt.Errorf("reverse.release_slot must be between 0 and 127")
	}
	return nil
}

func ensureSettings(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultSettingsYAML), 0o644)
}
