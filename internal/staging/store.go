// Package staging owns the on-disk layout of pipeline runs:
// temp/<pipeline_run_id>/<stage_run_id>/<file>.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store manages stage directories under a temp root.
type Store struct {
	root string
}

// New builds a store rooted at the temp directory.
func New(root string) *Store {
	return &Store{root: root}
}

// RunDir returns the directory holding every stage run of a pipeline run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

// StageDir returns the output directory of a stage run.
func (s *Store) StageDir(runID, stageRunID string) string {
	return filepath.Join(s.root, runID, stageRunID)
}

// Exists reports whether a stage run directory is present.
func (s *Store) Exists(runID, stageRunID string) bool {
	if stageRunID == "" {
		return false
	}
	info, err := os.Stat(s.StageDir(runID, stageRunID))
	return err == nil && info.IsDir()
}

// Create makes an empty output directory for a new stage run. A leftover
// directory with the same id is cleared first.
func (s *Store) Create(runID, stageRunID string) (string, error) {
	if stageRunID == "" || strings.ContainsAny(stageRunID, `/\`) {
		return "", fmt.Errorf("staging: invalid stage run id %q", stageRunID)
	}
	dir := s.StageDir(runID, stageRunID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("staging: clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("staging: create %s: %w", dir, err)
	}
	return dir, nil
}

// Runs lists pipeline run directories whose name starts with prefix.
func (s *Store) Runs(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("staging: list runs: %w", err)
	}
	var runs []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			runs = append(runs, entry.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// CollectOrphans removes every stage directory of runID that is not listed in
// keep and returns the removed ids. Plain files (the ledger) are left alone.
func (s *Store) CollectOrphans(runID string, keep []string) ([]string, error) {
	entries, err := os.ReadDir(s.RunDir(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("staging: list stage runs: %w", err)
	}
	live := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		live[id] = struct{}{}
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := live[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.RunDir(runID), entry.Name())); err != nil {
			return removed, fmt.Errorf("staging: remove orphan %s: %w", entry.Name(), err)
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

// ListFiles returns the sorted names of regular, non-hidden files in dir.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("staging: list %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// TurnIn replaces the files of dst with copies of the files in src.
func TurnIn(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("staging: ensure %s: %w", dst, err)
	}
	stale, err := ListFiles(dst)
	if err != nil {
		return err
	}
	for _, name := range stale {
		if err := os.Remove(filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("staging: clear %s: %w", name, err)
		}
	}
	names, err := ListFiles(src)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("staging: turn in %s: %w", name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
