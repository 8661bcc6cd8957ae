package stage

import (
	"context"
	"path/filepath"

	"github.com/kingrea/tickflow/internal/event"
)

// Lines builds a per-file stage from a rewrite of an event file's raw lines.
// The output keeps the input's file name.
func Lines(info Info, fn func([]string) ([]string, error)) Stage {
	return PerFile{
		StageInfo: info,
		Transform: func(_ context.Context, src, dstDir string) (string, error) {
			lines, err := event.ReadLines(src)
			if err != nil {
				return "", err
			}
			out, err := fn(lines)
			if err != nil {
				return "", err
			}
			name := filepath.Base(src)
			return name, event.WriteLines(filepath.Join(dstDir, name), out)
		},
	}
}

// Records builds a per-file stage from a rewrite of parsed event records.
// The output keeps the input's file name.
func Records(info Info, fn func([]event.Record) ([]event.Record, error)) Stage {
	return PerFile{
		StageInfo: info,
		Transform: func(_ context.Context, src, dstDir string) (string, error) {
			records, err := event.ReadRecords(src)
			if err != nil {
				return "", err
			}
			out, err := fn(records)
			if err != nil {
				return "", err
			}
			name := filepath.Base(src)
			return name, event.WriteRecords(filepath.Join(dstDir, name), out)
		},
	}
}
