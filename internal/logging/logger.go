package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the run log kept in the data root's log directory.
const FileName = "tickflow.log"

// Logger appends timestamped lines to log/tickflow.log so a finished or
// interrupted run can be inspected afterwards.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	clock func() time.Time
}

// New creates (or reuses) the run log inside logDir.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{out: f, file: f, clock: time.Now}, nil
}

// Echo copies every following line to w as well as the run log.
func (l *Logger) Echo(w io.Writer) {
	if l == nil || w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = io.MultiWriter(l.out, w)
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line. Stage workers log concurrently.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	timestamp := l.clock().Format(time.RFC3339)
	fmt.Fprintf(l.out, "[%s] %s\n", timestamp, line)
}
