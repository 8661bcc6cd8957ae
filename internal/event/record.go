package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Event tags understood by the pipeline. Every other tag is carried as KindOther.
const (
	TagHeader     = "Header"
	TagStartTrack = "Start_track"
	TagEndTrack   = "End_track"
	TagEndOfFile  = "End_of_file"
	TagNoteOn     = "Note_on_c"
	TagNoteOff    = "Note_off_c"
	TagTempo      = "Tempo"
)

// Kind classifies a record by its tag.
type Kind int

const (
	KindOther Kind = iota
	KindHeader
	KindStartTrack
	KindEndTrack
	KindEndOfFile
	KindNoteOn
	KindNoteOff
	KindTempo
)

var kindNames = map[Kind]string{
	KindOther:      "other",
	KindHeader:     "header",
	KindStartTrack: "start-track",
	KindEndTrack:   "end-track",
	KindEndOfFile:  "end-of-file",
	KindNoteOn:     "note-on",
	KindNoteOff:    "note-off",
	KindTempo:      "tempo",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsNote reports whether the kind carries channel, pitch and velocity fields.
func (k Kind) IsNote() bool {
	return k == KindNoteOn || k == KindNoteOff
}

// KindOf maps a tag to its kind.
func KindOf(tag string) Kind {
	switch tag {
	case TagHeader:
		return KindHeader
	case TagStartTrack:
		return KindStartTrack
	case TagEndTrack:
		return KindEndTrack
	case TagEndOfFile:
		return KindEndOfFile
	case TagNoteOn:
		return KindNoteOn
	case TagNoteOff:
		return KindNoteOff
	case TagTempo:
		return KindTempo
	default:
		return KindOther
	}
}

// Record is one event line: `track,tick,tag,...`. Note records interpret the
// trailing fields as channel, pitch, velocity and an optional duration; all
// other records keep them verbatim in Extra. Whether Tick is absolute or a
// delta depends on the stage that produced the line.
type Record struct {
	Track    int
	Tick     int
	Tag      string
	Kind     Kind
	Channel  int
	Pitch    int
	Velocity int
	// HasDuration is set once the duration pairing stage has run.
	HasDuration bool
	Duration    int
	Extra       []string
}

// Fields splits a line on commas and trims every field.
func Fields(line string) []string {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Parse decodes a single event line.
func Parse(line string) (Record, error) {
	parts := Fields(line)
	if len(parts) < 3 {
		return Record{}, fmt.Errorf("event: %q: expected at least 3 fields, got %d", line, len(parts))
	}
	track, err := strconv.Atoi(parts[0])
	if err != nil {
		return Record{}, fmt.Errorf("event: %q: track: %w", line, err)
	}
	tick, err := strconv.Atoi(parts[1])
	if err != nil {
		return Record{}, fmt.Errorf("event: %q: tick: %w", line, err)
	}
	rec := Record{Track: track, Tick: tick, Tag: parts[2], Kind: KindOf(parts[2])}
	rest := parts[3:]
	if !rec.Kind.IsNote() {
		if len(rest) > 0 {
			rec.Extra = append([]string(nil), rest...)
		}
		return rec, nil
	}
	if len(rest) < 3 || len(rest) > 4 {
		return Record{}, fmt.Errorf("event: %q: note events need channel, pitch, velocity and an optional duration", line)
	}
	values := make([]int, len(rest))
	for i, field := range rest {
		v, err := strconv.Atoi(field)
		if err != nil {
			return Record{}, fmt.Errorf("event: %q: field %d: %w", line, i+3, err)
		}
		values[i] = v
	}
	rec.Channel, rec.Pitch, rec.Velocity = values[0], values[1], values[2]
	if len(values) == 4 {
		rec.HasDuration = true
		rec.Duration = values[3]
	}
	return rec, nil
}

// String renders the record as a comma separated line without a newline.
func (r Record) String() string {
	fields := []string{strconv.Itoa(r.Track), strconv.Itoa(r.Tick), r.Tag}
	if r.Kind.IsNote() {
		fields = append(fields, strconv.Itoa(r.Channel), strconv.Itoa(r.Pitch), strconv.Itoa(r.Velocity))
		if r.HasDuration {
			fields = append(fields, strconv.Itoa(r.Duration))
		}
	} else {
		fields = append(fields, r.Extra...)
	}
	return strings.Join(fields, ",")
}

// IsNoteOn reports a sounding note: a note-on with positive velocity.
func (r Record) IsNoteOn() bool {
	return r.Kind == KindNoteOn && r.Velocity > 0
}

// IsRelease reports a note-on with velocity zero, the unified note-off encoding.
func (r Record) IsRelease() bool {
	return r.Kind == KindNoteOn && r.Velocity == 0
}

// Division returns the ticks-per-beat declared by a header record.
func (r Record) Division() (int, error) {
	if r.Kind != KindHeader {
		return 0, fmt.Errorf("event: division requested from %s record", r.Kind)
	}
	if len(r.Extra) < 3 {
		return 0, fmt.Errorf("event: header record has %d fields, want 3", len(r.Extra))
	}
	division, err := strconv.Atoi(r.Extra[2])
	if err != nil {
		return 0, fmt.Errorf("event: header division: %w", err)
	}
	return division, nil
}

// Tempo returns the microseconds-per-beat value of a tempo record.
func (r Record) Tempo() (int, error) {
	if r.Kind != KindTempo {
		return 0, fmt.Errorf("event: tempo requested from %s record", r.Kind)
	}
	if len(r.Extra) < 1 {
		return 0, fmt.Errorf("event: tempo record without value")
	}
	tempo, err := strconv.Atoi(r.Extra[0])
	if err != nil {
		return 0, fmt.Errorf("event: tempo value: %w", err)
	}
	return tempo, nil
}

// Header builds a header record declaring format, track count and division.
func Header(format, tracks, division int) Record {
	return Record{
		Tag:   TagHeader,
		Kind:  KindHeader,
		Extra: []string{strconv.Itoa(format), strconv.Itoa(tracks), strconv.Itoa(division)},
	}
}

// Marker builds a record with no payload (Start_track, End_track, End_of_file).
func Marker(track, tick int, tag string) Record {
	return Record{Track: track, Tick: tick, Tag: tag, Kind: KindOf(tag)}
}

// DefaultTempo is the tempo a MIDI player assumes when a file sets none.
const DefaultTempo = 500000

// TempoEvent builds a Tempo record in microseconds per beat.
func TempoEvent(track, tick, tempo int) Record {
	return Record{Track: track, Tick: tick, Tag: TagTempo, Kind: KindTempo, Extra: []string{strconv.Itoa(tempo)}}
}

// NoteOn builds a Note_on_c record.
func NoteOn(track, tick, channel, pitch, velocity int) Record {
	return Record{
		Track:    track,
		Tick:     tick,
		Tag:      TagNoteOn,
		Kind:     KindNoteOn,
		Channel:  channel,
		Pitch:    pitch,
		Velocity: velocity,
	}
}

// ParseAll parses every non-blank line.
func ParseAll(lines []string) ([]Record, error) {
	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// FormatAll renders records as lines.
func FormatAll(records []Record) []string {
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = rec.String()
	}
	return lines
}
