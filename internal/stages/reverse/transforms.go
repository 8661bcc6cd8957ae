package reverse

import (
	"fmt"
	"sort"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/event"
)

// NoteColumns is the header add_headers_and_cols writes above its rows.
const NoteColumns = "delta_time,event,channel,pitch,velocity,duration"

// Track and channel every reconstructed note is written to.
const (
	noteTrack   = 1
	noteChannel = 1
)

// AddHeadersAndCols turns feature rows into note lines carrying their delta,
// velocity and duration, preceded by a column header.
func AddHeadersAndCols(rows []event.Feature, rev config.Reverse) ([]string, error) {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, NoteColumns)
	for i, row := range rows {
		velocity := rev.Velocity
		if row.HasVelocity {
			velocity = row.Velocity
		}
		switch {
		case row.DeltaTime < 0:
			return nil, fmt.Errorf("row %d: negative delta_time %d", i+1, row.DeltaTime)
		case row.Duration < 0:
			return nil, fmt.Errorf("row %d: negative duration %d", i+1, row.Duration)
		case row.Pitch < 0 || row.Pitch > 127:
			return nil, fmt.Errorf("row %d: pitch %d out of range", i+1, row.Pitch)
		case velocity < 0 || velocity > 127:
			return nil, fmt.Errorf("row %d: velocity %d out of range", i+1, velocity)
		}
		rec := event.NoteOn(noteTrack, row.DeltaTime, noteChannel, row.Pitch, velocity)
		rec.HasDuration = true
		rec.Duration = row.Duration
		lines = append(lines, rec.String())
	}
	return lines, nil
}

// CumulateDeltaTimes drops the column header and replaces deltas with their
// running sum.
func CumulateDeltaTimes(lines []string) ([]event.Record, error) {
	if len(lines) > 0 && lines[0] == NoteColumns {
		lines = lines[1:]
	}
	records, err := event.ParseAll(lines)
	if err != nil {
		return nil, err
	}
	total := 0
	for i := range records {
		total += records[i].Tick
		records[i].Tick = total
	}
	return records, nil
}

// UnpackDurations emits every note without its duration followed by a
// zero-velocity release at tick+duration, then stable-sorts by tick so a
// release sharing a tick with a later note stays ahead of it.
func UnpackDurations(records []event.Record, rev config.Reverse) []event.Record {
	out := make([]event.Record, 0, 2*len(records))
	for _, rec := range records {
		duration := rec.Duration
		rec.HasDuration = false
		rec.Duration = 0
		out = append(out, rec)
		if !rec.Kind.IsNote() {
			continue
		}
		pitch := rev.ReleaseSlot
		if rev.ReleasePitch == config.ReleasePaired {
			pitch = rec.Pitch
		}
		out = append(out, event.NoteOn(rec.Track, rec.Tick+duration, rec.Channel, pitch, 0))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out
}

// AddFinalHeaders frames note records as a complete single-track stream. A
// Tempo event opens the track unless tempo is the player default.
func AddFinalHeaders(records []event.Record, resolution, tempo int) []event.Record {
	last := 0
	if len(records) > 0 {
		last = records[len(records)-1].Tick
	}
	out := make([]event.Record, 0, len(records)+5)
	out = append(out, event.Header(0, 1, resolution), event.Marker(noteTrack, 0, event.TagStartTrack))
	if tempo != event.DefaultTempo {
		out = append(out, event.TempoEvent(noteTrack, 0, tempo))
	}
	out = append(out, records...)
	out = append(out, event.Marker(noteTrack, last, event.TagEndTrack), event.Marker(0, 0, event.TagEndOfFile))
	return out
}
