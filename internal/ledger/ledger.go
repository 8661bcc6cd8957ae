// Package ledger records which stage run produced each stage's output within
// a pipeline run, so an interrupted or repeated run can skip finished work.
package ledger

import (
	"time"
)

// Entry is one completed stage run.
type Entry struct {
	Stage       string    `json:"stage"`
	RunID       string    `json:"run_id"`
	Files       []string  `json:"files,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Ledger maps stages to the stage run that last completed them.
type Ledger struct {
	PipelineRunID string    `json:"pipeline_run_id"`
	Pipeline      string    `json:"pipeline"`
	Entries       []Entry   `json:"entries"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New returns an empty ledger for a pipeline run.
func New(pipeline, runID string) Ledger {
	return Ledger{PipelineRunID: runID, Pipeline: pipeline, Entries: []Entry{}}
}

// Lookup returns the entry recorded for a stage.
func (l Ledger) Lookup(stage string) (Entry, bool) {
	for _, entry := range l.Entries {
		if entry.Stage == stage {
			return entry, true
		}
	}
	return Entry{}, false
}

// Record stores entry, replacing any earlier entry for the same stage.
func (l *Ledger) Record(entry Entry) {
	entry.Files = cloneStrings(entry.Files)
	for i := range l.Entries {
		if l.Entries[i].Stage == entry.Stage {
			l.Entries[i] = entry
			return
		}
	}
	l.Entries = append(l.Entries, entry)
}

// Drop removes the entries of the named stages and reports whether any
// entry was removed.
func (l *Ledger) Drop(stages ...string) bool {
	if len(stages) == 0 {
		return false
	}
	drop := make(map[string]struct{}, len(stages))
	for _, s := range stages {
		drop[s] = struct{}{}
	}
	kept := l.Entries[:0]
	for _, entry := range l.Entries {
		if _, ok := drop[entry.Stage]; !ok {
			kept = append(kept, entry)
		}
	}
	removed := len(kept) != len(l.Entries)
	l.Entries = kept
	return removed
}

// RunIDs returns the stage run ids referenced by the ledger.
func (l Ledger) RunIDs() []string {
	ids := make([]string, 0, len(l.Entries))
	for _, entry := range l.Entries {
		ids = append(ids, entry.RunID)
	}
	return ids
}

// Completed returns the stage names in the order they were recorded.
func (l Ledger) Completed() []string {
	names := make([]string, 0, len(l.Entries))
	for _, entry := range l.Entries {
		names = append(names, entry.Stage)
	}
	return names
}

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	out := l
	out.Entries = make([]Entry, len(l.Entries))
	for i, entry := range l.Entries {
		entry.Files = cloneStrings(entry.Files)
		out.Entries[i] = entry
	}
	return out
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
