// Package midicsv converts Standard MIDI Files to and from the comma separated
// event lines used between pipeline stages. Container parsing and writing is
// done by gomidi's smf package; this package only maps messages to lines.
package midicsv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/kingrea/tickflow/internal/event"
)

var (
	// ErrSMPTETiming is returned for files using SMPTE time division; only
	// metric (ticks-per-beat) files can be rescaled.
	ErrSMPTETiming = errors.New("midicsv: SMPTE time division is not supported")
	// ErrUnsupportedTag is returned by Encode for tags it cannot write.
	ErrUnsupportedTag = errors.New("midicsv: unsupported event tag")
)

// Read parses a Standard MIDI File.
func Read(r io.Reader) (*smf.SMF, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("midicsv: read smf: %w", err)
	}
	return s, nil
}

// ReadFile parses the Standard MIDI File at path.
func ReadFile(path string) (*smf.SMF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(data))
}

// WriteFile serializes s to path.
func WriteFile(path string, s *smf.SMF) error {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return fmt.Errorf("midicsv: write smf: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Resolution returns the ticks-per-beat of a metric file.
func Resolution(s *smf.SMF) (int, error) {
	ticks, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return 0, ErrSMPTETiming
	}
	return int(ticks), nil
}

// Programs returns the distinct program-change programs used anywhere in the
// file, sorted ascending.
func Programs(s *smf.SMF) []int {
	seen := map[int]struct{}{}
	var ch, program uint8
	for _, track := range s.Tracks {
		for _, ev := range track {
			if ev.Message.GetProgramChange(&ch, &program) {
				seen[int(program)] = struct{}{}
			}
		}
	}
	programs := make([]int, 0, len(seen))
	for program := range seen {
		programs = append(programs, program)
	}
	sort.Ints(programs)
	return programs
}

// Merge folds every track of s into a single track ordered by absolute tick.
// Events sharing a tick keep track order, then their order within the track.
// Track end markers are dropped and one is written after the last event.
func Merge(s *smf.SMF) (*smf.SMF, error) {
	type placed struct {
		tick uint64
		msg  smf.Message
	}
	var all []placed
	for _, track := range s.Tracks {
		var abs uint64
		for _, ev := range track {
			abs += uint64(ev.Delta)
			if ev.Message.Is(smf.MetaEndOfTrackMsg) {
				continue
			}
			all = append(all, placed{tick: abs, msg: ev.Message})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].tick < all[j].tick })

	merged := smf.New()
	merged.TimeFormat = s.TimeFormat
	var track smf.Track
	var last uint64
	for _, p := range all {
		track.Add(uint32(p.tick-last), p.msg)
		last = p.tick
	}
	track.Close(0)
	if err := merged.Add(track); err != nil {
		return nil, fmt.Errorf("midicsv: merge tracks: %w", err)
	}
	return merged, nil
}

// Decode renders a Standard MIDI File as event lines with absolute ticks per
// track, in the layout `track, tick, tag, fields...`.
func Decode(r io.Reader) ([]string, error) {
	s, err := Read(r)
	if err != nil {
		return nil, err
	}
	return DecodeSMF(s)
}

// DecodeSMF renders an already parsed file as event lines.
func DecodeSMF(s *smf.SMF) ([]string, error) {
	division, err := Resolution(s)
	if err != nil {
		return nil, err
	}
	format := 1
	if len(s.Tracks) == 1 {
		format = 0
	}
	lines := []string{fmt.Sprintf("0, 0, %s, %d, %d, %d", event.TagHeader, format, len(s.Tracks), division)}
	for i, track := range s.Tracks {
		n := i + 1
		lines = append(lines, fmt.Sprintf("%d, 0, %s", n, event.TagStartTrack))
		var abs uint64
		for _, ev := range track {
			abs += uint64(ev.Delta)
			if ev.Message.Is(smf.MetaEndOfTrackMsg) {
				break
			}
			body, ok := describe(ev.Message)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d, %d, %s", n, abs, body))
		}
		lines = append(lines, fmt.Sprintf("%d, %d, %s", n, abs, event.TagEndTrack))
	}
	lines = append(lines, fmt.Sprintf("0, 0, %s", event.TagEndOfFile))
	return lines, nil
}

// Encode writes event lines (absolute ticks per track) as a Standard MIDI File.
func Encode(lines []string, w io.Writer) error {
	records, err := event.ParseAll(lines)
	if err != nil {
		return fmt.Errorf("midicsv: %w", err)
	}
	if len(records) == 0 || records[0].Kind != event.KindHeader {
		return fmt.Errorf("midicsv: event stream must start with a %s line", event.TagHeader)
	}
	header := records[0]
	if len(header.Extra) < 3 {
		return fmt.Errorf("midicsv: header needs format, tracks and division")
	}
	format, err := strconv.Atoi(header.Extra[0])
	if err != nil {
		return fmt.Errorf("midicsv: header format: %w", err)
	}
	division, err := header.Division()
	if err != nil {
		return fmt.Errorf("midicsv: %w", err)
	}
	if division <= 0 || division > 0x7FFF {
		return fmt.Errorf("midicsv: division %d out of range", division)
	}

	var out *smf.SMF
	if format == 0 {
		out = smf.New()
	} else {
		out = smf.NewSMF1()
	}
	out.TimeFormat = smf.MetricTicks(division)

	var current *smf.Track
	last := 0
	closeTrack := func(tick int) error {
		delta := tick - last
		if delta < 0 {
			return fmt.Errorf("midicsv: track %s at tick %d precedes tick %d", event.TagEndTrack, tick, last)
		}
		current.Close(uint32(delta))
		if err := out.Add(*current); err != nil {
			return fmt.Errorf("midicsv: add track: %w", err)
		}
		current = nil
		return nil
	}
	for _, rec := range records[1:] {
		switch rec.Kind {
		case event.KindStartTrack:
			if current != nil {
				return fmt.Errorf("midicsv: %s before previous track ended", event.TagStartTrack)
			}
			current = &smf.Track{}
			last = 0
		case event.KindEndTrack:
			if current == nil {
				return fmt.Errorf("midicsv: %s outside of a track", event.TagEndTrack)
			}
			if err := closeTrack(rec.Tick); err != nil {
				return err
			}
		case event.KindEndOfFile:
		default:
			if current == nil {
				return fmt.Errorf("midicsv: %s event outside of a track", rec.Tag)
			}
			msg, err := message(rec)
			if err != nil {
				return err
			}
			delta := rec.Tick - last
			if delta < 0 {
				return fmt.Errorf("midicsv: %s at tick %d precedes tick %d", rec.Tag, rec.Tick, last)
			}
			current.Add(uint32(delta), msg)
			last = rec.Tick
		}
	}
	if current != nil {
		if err := closeTrack(last); err != nil {
			return err
		}
	}
	if _, err := out.WriteTo(w); err != nil {
		return fmt.Errorf("midicsv: write smf: %w", err)
	}
	return nil
}

func message(rec event.Record) ([]byte, error) {
	switch rec.Kind {
	case event.KindNoteOn, event.KindNoteOff:
		ch, key, vel, err := noteFields(rec)
		if err != nil {
			return nil, err
		}
		if rec.Kind == event.KindNoteOn {
			return midi.NoteOn(ch, key, vel), nil
		}
		return midi.NoteOffVelocity(ch, key, vel), nil
	case event.KindTempo:
		tempo, err := rec.Tempo()
		if err != nil {
			return nil, fmt.Errorf("midicsv: %w", err)
		}
		if tempo <= 0 || tempo > 0xFFFFFF {
			return nil, fmt.Errorf("midicsv: tempo %d out of range", tempo)
		}
		return []byte{0xFF, 0x51, 0x03, byte(tempo >> 16), byte(tempo >> 8), byte(tempo)}, nil
	}
	switch rec.Tag {
	case "Program_c":
		values, err := byteFields(rec, 2)
		if err != nil {
			return nil, err
		}
		return midi.ProgramChange(values[0], values[1]), nil
	case "Control_c":
		values, err := byteFields(rec, 3)
		if err != nil {
			return nil, err
		}
		return midi.ControlChange(values[0], values[1], values[2]), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedTag, rec.Tag)
}

func noteFields(rec event.Record) (uint8, uint8, uint8, error) {
	if rec.Channel < 0 || rec.Channel > 15 {
		return 0, 0, 0, fmt.Errorf("midicsv: channel %d out of range", rec.Channel)
	}
	if rec.Pitch < 0 || rec.Pitch > 127 {
		return 0, 0, 0, fmt.Errorf("midicsv: pitch %d out of range", rec.Pitch)
	}
	if rec.Velocity < 0 || rec.Velocity > 127 {
		return 0, 0, 0, fmt.Errorf("midicsv: velocity %d out of range", rec.Velocity)
	}
	return uint8(rec.Channel), uint8(rec.Pitch), uint8(rec.Velocity), nil
}

func byteFields(rec event.Record, n int) ([]uint8, error) {
	if len(rec.Extra) < n {
		return nil, fmt.Errorf("midicsv: %s needs %d fields, got %d", rec.Tag, n, len(rec.Extra))
	}
	values := make([]uint8, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(rec.Extra[i])
		if err != nil {
			return nil, fmt.Errorf("midicsv: %s field %d: %w", rec.Tag, i+1, err)
		}
		limit := 127
		if i == 0 {
			limit = 15
		}
		if v < 0 || v > limit {
			return nil, fmt.Errorf("midicsv: %s field %d value %d out of range", rec.Tag, i+1, v)
		}
		values[i] = uint8(v)
	}
	return values, nil
}

var textMetaTags = map[byte]string{
	0x01: "Text_t",
	0x02: "Copyright_t",
	0x03: "Title_t",
	0x04: "Instrument_name_t",
	0x05: "Lyric_t",
	0x06: "Marker_t",
	0x07: "Cue_point_t",
}

// describe renders the tag and payload fields of one message. Messages with
// no line representation (real-time bytes) report false.
func describe(msg smf.Message) (string, bool) {
	if len(msg) == 0 {
		return "", false
	}
	status := msg[0]
	switch {
	case status == 0xFF:
		return describeMeta(msg)
	case status == 0xF0 || status == 0xF7:
		data := bytes.TrimSuffix(msg[1:], []byte{0xF7})
		return fmt.Sprintf("System_exclusive, %d, %s", len(data), joinBytes(data)), true
	case msg.Is(midi.ChannelMsg):
		return describeChannel(msg)
	}
	return "", false
}

func describeChannel(msg smf.Message) (string, bool) {
	var ch, a, b uint8
	var bend uint16
	switch {
	case msg.GetNoteOff(&ch, &a, &b):
		return fmt.Sprintf("%s, %d, %d, %d", event.TagNoteOff, ch, a, b), true
	case msg.GetNoteOn(&ch, &a, &b):
		return fmt.Sprintf("%s, %d, %d, %d", event.TagNoteOn, ch, a, b), true
	case msg.GetPolyAfterTouch(&ch, &a, &b):
		return fmt.Sprintf("Poly_aftertouch_c, %d, %d, %d", ch, a, b), true
	case msg.GetControlChange(&ch, &a, &b):
		return fmt.Sprintf("Control_c, %d, %d, %d", ch, a, b), true
	case msg.GetProgramChange(&ch, &a):
		return fmt.Sprintf("Program_c, %d, %d", ch, a), true
	case msg.GetAfterTouch(&ch, &a):
		return fmt.Sprintf("Channel_aftertouch_c, %d, %d", ch, a), true
	case msg.GetPitchBend(&ch, nil, &bend):
		return fmt.Sprintf("Pitch_bend_c, %d, %d", ch, bend), true
	}
	return "", false
}

// describeMeta reads meta payloads from the raw bytes: the library getters
// report tempo as BPM and drop unknown meta types, and lines need exact values.
func describeMeta(msg smf.Message) (string, bool) {
	if len(msg) < 2 {
		return "", false
	}
	typ := msg[1]
	length, n := readVarLen(msg[2:])
	start := 2 + n
	end := start + length
	if n == 0 || end > len(msg) {
		end = len(msg)
		if start > end {
			start = end
		}
	}
	data := msg[start:end]
	if tag, ok := textMetaTags[typ]; ok {
		return fmt.Sprintf("%s, %q", tag, sanitizeText(data)), true
	}
	switch typ {
	case 0x00:
		value := 0
		for _, b := range data {
			value = value<<8 | int(b)
		}
		return fmt.Sprintf("Sequence_number, %d", value), true
	case 0x20:
		if len(data) >= 1 {
			return fmt.Sprintf("Channel_prefix, %d", data[0]), true
		}
	case 0x21:
		if len(data) >= 1 {
			return fmt.Sprintf("MIDI_port, %d", data[0]), true
		}
	case 0x51:
		if len(data) >= 3 {
			tempo := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
			return fmt.Sprintf("%s, %d", event.TagTempo, tempo), true
		}
	case 0x54:
		if len(data) >= 5 {
			return fmt.Sprintf("SMPTE_offset, %d, %d, %d, %d, %d", data[0], data[1], data[2], data[3], data[4]), true
		}
	case 0x58:
		if len(data) >= 4 {
			return fmt.Sprintf("Time_signature, %d, %d, %d, %d", data[0], data[1], data[2], data[3]), true
		}
	case 0x59:
		if len(data) >= 2 {
			mode := "major"
			if data[1] != 0 {
				mode = "minor"
			}
			return fmt.Sprintf("Key_signature, %d, %q", int8(data[0]), mode), true
		}
	case 0x7F:
		return fmt.Sprintf("Sequencer_specific, %d, %s", len(data), joinBytes(data)), true
	}
	return fmt.Sprintf("Unknown_meta_event, %d, %d, %s", typ, len(data), joinBytes(data)), true
}

func readVarLen(b []byte) (int, int) {
	value := 0
	for i := 0; i < len(b) && i < 4; i++ {
		value = value<<7 | int(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}

func joinBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ", ")
}

// sanitizeText keeps text metas on one field: commas, quotes and line breaks
// would otherwise split or terminate the line.
func sanitizeText(data []byte) string {
	replacer := strings.NewReplacer(",", " ", "\"", "'", "\n", " ", "\r", " ")
	return replacer.Replace(string(data))
}
