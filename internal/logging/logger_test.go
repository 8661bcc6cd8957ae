package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPrintfAppendsTimestampedLineAndEchoes(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer logger.Close()
	logger.clock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	logger.Printf("quiet")
	var buf bytes.Buffer
	logger.Echo(&buf)
	logger.Printf("stage %s executed\n", "scale_timings")
	want := "[2024-03-01T12:00:00Z] stage scale_timings executed\n"
	if buf.String() != want {
		t.Fatalf("echo = %q, want %q", buf.String(), want)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "[2024-03-01T12:00:00Z] quiet\n"+want {
		t.Fatalf("log = %q", data)
	}
}

func TestNewAppendsAcrossOpens(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	for i := 0; i < 2; i++ {
		logger, err := New(dir)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		logger.Printf("open %d", i)
		if err := logger.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 || !strings.Contains(string(data), "open 1") {
		t.Fatalf("unexpected log contents %q", data)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if err := logger.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
