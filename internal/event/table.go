package event

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Feature table column names.
const (
	ColumnDeltaTime = "delta_time"
	ColumnPitch     = "pitch"
	ColumnDuration  = "duration"
	ColumnVelocity  = "velocity"
)

// FeatureColumns is the header written by the forward pipeline.
var FeatureColumns = []string{ColumnDeltaTime, ColumnPitch, ColumnDuration}

// Feature is one row of a feature table. Velocity is only populated when the
// table carries the optional velocity column.
type Feature struct {
	DeltaTime   int
	Pitch       int
	Duration    int
	Velocity    int
	HasVelocity bool
}

// ErrEmptyTable is returned when a table has no header row.
var ErrEmptyTable = errors.New("event: feature table has no header")

// ReadTable parses a feature table. Columns are located by header name so
// model specific extra columns are ignored.
func ReadTable(r io.Reader) ([]Feature, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyTable
		}
		return nil, fmt.Errorf("event: read table header: %w", err)
	}
	index := map[string]int{}
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range FeatureColumns {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("event: feature table is missing column %q", required)
		}
	}
	velocityCol, hasVelocity := index[ColumnVelocity]

	var rows []Feature
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("event: read table row %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		cell := func(name string) (int, error) {
			col := index[name]
			if col >= len(record) {
				return 0, fmt.Errorf("event: table row %d: missing %s", line, name)
			}
			v, err := parseNumber(record[col])
			if err != nil {
				return 0, fmt.Errorf("event: table row %d: %s: %w", line, name, err)
			}
			return v, nil
		}
		var row Feature
		if row.DeltaTime, err = cell(ColumnDeltaTime); err != nil {
			return nil, err
		}
		if row.Pitch, err = cell(ColumnPitch); err != nil {
			return nil, err
		}
		if row.Duration, err = cell(ColumnDuration); err != nil {
			return nil, err
		}
		if hasVelocity && velocityCol < len(record) {
			if row.Velocity, err = cell(ColumnVelocity); err != nil {
				return nil, err
			}
			row.HasVelocity = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteTable writes the three column feature table with its header row.
func WriteTable(w io.Writer, rows []Feature) error {
	if _, err := io.WriteString(w, strings.Join(FeatureColumns, ",")+"\n"); err != nil {
		return err
	}
	for _, row := range rows {
		line := strconv.Itoa(row.DeltaTime) + "," + strconv.Itoa(row.Pitch) + "," + strconv.Itoa(row.Duration) + "\n"
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// parseNumber accepts integers and integral floats ("12.0"), which generated
// tables written by dataframe tooling sometimes contain.
func parseNumber(value string) (int, error) {
	value = strings.TrimSpace(value)
	if v, err := strconv.Atoi(value); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", value)
	}
	return int(math.RoundToEven(f)), nil
}
