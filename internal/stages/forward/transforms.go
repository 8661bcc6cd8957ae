package forward

import (
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/tickflow/internal/config"
	"github.com/kingrea/tickflow/internal/event"
)

// MetadataTags are the tags remove_meta_data drops. None of them affect
// which notes sound or when.
var MetadataTags = map[string]struct{}{
	"Control_c":               {},
	"Pitch_bend_c":            {},
	"Program_c":               {},
	"Poly_aftertouch_c":       {},
	"Channel_aftertouch_c":    {},
	"System_exclusive":        {},
	"System_exclusive_packet": {},
	"Channel_prefix":          {},
	"Sequencer_specific":      {},
	"MIDI_port":               {},
	"Title_t":                 {},
	"Copyright_t":             {},
	"Instrument_name_t":       {},
	"Marker_t":                {},
	"Cue_point_t":             {},
	"Lyric_t":                 {},
	"Text_t":                  {},
	"Key_signature":           {},
	"Time_signature":          {},
	"SMPTE_offset":            {},
	"Sequence_number":         {},
	"Unknown_meta_event":      {},
}

// RemoveMetadata drops metadata lines and rewrites the rest with trimmed
// fields, keeping their order.
func RemoveMetadata(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := event.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 fields, got %d", i+1, len(fields))
		}
		if _, drop := MetadataTags[fields[2]]; drop {
			continue
		}
		out = append(out, strings.Join(fields, ","))
	}
	return out, nil
}

// UnifyNoteOffs rewrites every Note_off_c as a Note_on_c with velocity 0.
func UnifyNoteOffs(records []event.Record) []event.Record {
	out := make([]event.Record, len(records))
	for i, rec := range records {
		if rec.Kind == event.KindNoteOff {
			rec.Tag = event.TagNoteOn
			rec.Kind = event.KindNoteOn
			rec.Velocity = 0
		}
		out[i] = rec
	}
	return out
}

// ScaleTimings rescales absolute ticks from the file's division to
// timing.TargetResolution, folding tempo changes into the tick values so the
// output plays at timing.TargetTempo. Tempo events are consumed. The header is
// replaced with a single-track format 0 header and the last record's tick is
// set to 0.
func ScaleTimings(records []event.Record, timing config.Timing) ([]event.Record, error) {
	if len(records) == 0 || records[0].Kind != event.KindHeader {
		return nil, fmt.Errorf("scale: missing %s line", event.TagHeader)
	}
	division, err := records[0].Division()
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	if division <= 0 {
		return nil, fmt.Errorf("scale: division %d is not a positive tick count", division)
	}
	var (
		tOld        = float64(division)
		ratio       = float64(timing.TargetResolution) / float64(timing.TargetTempo)
		tempo       = timing.InitialTempo
		lastTickOld int
		lastTickNew int
	)
	out := []event.Record{event.Header(0, 1, timing.TargetResolution)}
	for _, rec := range records[1:] {
		deltaOld := rec.Tick - lastTickOld
		deltaUS := float64(deltaOld) * (float64(tempo) / tOld)
		tickNew := lastTickNew + int(math.RoundToEven(deltaUS*ratio))
		lastTickOld, lastTickNew = rec.Tick, tickNew
		if rec.Kind == event.KindTempo {
			value, err := rec.Tempo()
			if err != nil {
				return nil, fmt.Errorf("scale: %w", err)
			}
			if value <= 0 {
				return nil, fmt.Errorf("scale: tempo %d is not positive", value)
			}
			tempo = value
			continue
		}
		rec.Tick = tickNew
		out = append(out, rec)
	}
	out[len(out)-1].Tick = 0
	return out, nil
}

// PairDurations gives each sounding note the distance to the first later
// release of the same pitch that no earlier note has claimed (0 when there is
// none). Releases are consumed; every other record passes through unchanged.
func PairDurations(records []event.Record) []event.Record {
	out := make([]event.Record, 0, len(records))
	claimed := make([]bool, len(records))
	for i, rec := range records {
		if rec.IsRelease() {
			continue
		}
		if !rec.IsNoteOn() {
			out = append(out, rec)
			continue
		}
		rec.HasDuration = true
		rec.Duration = 0
		for j := i + 1; j < len(records); j++ {
			next := records[j]
			if claimed[j] || !next.IsRelease() || next.Pitch != rec.Pitch {
				continue
			}
			claimed[j] = true
			rec.Duration = next.Tick - rec.Tick
			break
		}
		out = append(out, rec)
	}
	return out
}

// DeltaTimes converts absolute ticks to the difference from the previous
// record. The first record keeps its own tick.
func DeltaTimes(records []event.Record) []event.Record {
	out := make([]event.Record, len(records))
	last := 0
	for i, rec := range records {
		tick := rec.Tick
		rec.Tick = tick - last
		last = tick
		out[i] = rec
	}
	return out
}

// Finalize projects note records onto feature rows. Dropped records carry
// their delta into the next note so note timing is preserved.
func Finalize(records []event.Record) []event.Feature {
	var (
		rows  []event.Feature
		carry int
	)
	for _, rec := range records {
		if rec.Kind != event.KindNoteOn {
			carry += rec.Tick
			continue
		}
		rows = append(rows, event.Feature{
			DeltaTime: carry + rec.Tick,
			Pitch:     rec.Pitch,
			Duration:  rec.Duration,
		})
		carry = 0
	}
	return rows
}
