package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/kingrea/tickflow/internal/staging"
)

// Extension is the file suffix of persisted ledgers.
const Extension = ".ledger"

var (
	// ErrNotFound is returned when no ledger has been persisted yet.
	ErrNotFound = errors.New("ledger: not found")
	// ErrCorrupt is returned when a persisted ledger cannot be decoded.
	ErrCorrupt = errors.New("ledger: corrupt")
)

// Store persists ledgers.
type Store interface {
	Load() (Ledger, error)
	Save(Ledger) error
}

// Repository stores a ledger as indented JSON at
// temp/<pipeline_run_id>/<pipeline_run_id>.ledger.
type Repository struct {
	path string
}

// NewRepository creates a repository for the pipeline run under tempDir.
func NewRepository(tempDir, runID string) *Repository {
	return &Repository{path: Path(tempDir, runID)}
}

// Path returns where the ledger of runID lives.
func Path(tempDir, runID string) string {
	return filepath.Join(tempDir, runID, runID+Extension)
}

// Load reads the persisted ledger.
func (r *Repository) Load() (Ledger, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Ledger{}, ErrNotFound
		}
		return Ledger{}, err
	}
	var ledger Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return Ledger{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.path, err)
	}
	if ledger.PipelineRunID == "" || ledger.Pipeline == "" {
		return Ledger{}, fmt.Errorf("%w: %s: missing run identity", ErrCorrupt, r.path)
	}
	if ledger.Entries == nil {
		ledger.Entries = []Entry{}
	}
	return ledger, nil
}

// Save writes the ledger through a temp file and rename so a crash never
// leaves a half-written ledger behind.
func (r *Repository) Save(ledger Ledger) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ledger: replace %s: %w", r.path, err)
	}
	return nil
}

// Discover returns the readable ledgers of every run of pipeline under
// tempDir, most recently updated first. Runs with missing or corrupt ledgers
// are not candidates.
func Discover(tempDir, pipeline string) ([]Ledger, error) {
	runs, err := staging.New(tempDir).Runs(pipeline + "-")
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	var found []Ledger
	for _, id := range runs {
		ledger, err := NewRepository(tempDir, id).Load()
		if err != nil {
			continue
		}
		if ledger.Pipeline != pipeline || ledger.PipelineRunID != id {
			continue
		}
		found = append(found, ledger)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].UpdatedAt.Equal(found[j].UpdatedAt) {
			return found[i].UpdatedAt.After(found[j].UpdatedAt)
		}
		return found[i].PipelineRunID < found[j].PipelineRunID
	})
	return found, nil
}
