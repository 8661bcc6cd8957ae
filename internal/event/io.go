package event

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// ReadLines loads a text file as lines, dropping line terminators and
// trailing blank lines.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("event: read %s: %w", path, err)
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// WriteLines writes newline terminated lines to path.
func WriteLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadRecords loads and parses an event file.
func ReadRecords(path string) ([]Record, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	return ParseAll(lines)
}

// WriteRecords renders records to an event file.
func WriteRecords(path string, records []Record) error {
	return WriteLines(path, FormatAll(records))
}
