package midicsv

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// tempo500k is a raw Tempo meta event of 500000 µs per beat.
var tempo500k = []byte{0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20}

func buildTwoTrackSong(t *testing.T) []byte {
	t.Helper()
	s := smf.NewSMF1()
	s.TimeFormat = smf.MetricTicks(480)

	var meta smf.Track
	meta.Add(0, tempo500k)
	meta.Close(0)

	var piano smf.Track
	piano.Add(0, midi.ProgramChange(0, 0))
	piano.Add(0, midi.NoteOn(0, 60, 100))
	piano.Add(480, midi.NoteOff(0, 60))
	piano.Close(0)

	if err := s.Add(meta); err != nil {
		t.Fatalf("add meta track: %v", err)
	}
	if err := s.Add(piano); err != nil {
		t.Fatalf("add piano track: %v", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write smf: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeRendersEventLines(t *testing.T) {
	lines, err := Decode(bytes.NewReader(buildTwoTrackSong(t)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{
		"0, 0, Header, 1, 2, 480",
		"1, 0, Start_track",
		"1, 0, Tempo, 500000",
		"1, 0, End_track",
		"2, 0, Start_track",
		"2, 0, Program_c, 0, 0",
		"2, 0, Note_on_c, 0, 60, 100",
		"2, 480, Note_off_c, 0, 60, 0",
		"2, 480, End_track",
		"0, 0, End_of_file",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("decode mismatch\n got: %q\nwant: %q", lines, want)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not a midi file"))); err == nil {
		t.Fatalf("expected error for malformed input")
	}
}

func TestDescribeChannelMessages(t *testing.T) {
	cases := []struct {
		msg  []byte
		want string
	}{
		{midi.NoteOffVelocity(3, 61, 40), "Note_off_c, 3, 61, 40"},
		{midi.NoteOn(3, 61, 0), "Note_on_c, 3, 61, 0"},
		{midi.PolyAfterTouch(1, 70, 5), "Poly_aftertouch_c, 1, 70, 5"},
		{midi.ControlChange(0, 64, 127), "Control_c, 0, 64, 127"},
		{midi.ProgramChange(9, 33), "Program_c, 9, 33"},
		{midi.AfterTouch(4, 90), "Channel_aftertouch_c, 4, 90"},
		{midi.Pitchbend(2, 0), "Pitch_bend_c, 2, 8192"},
		{tempo500k, "Tempo, 500000"},
	}
	for _, tc := range cases {
		got, ok := describe(smf.Message(tc.msg))
		if !ok || got != tc.want {
			t.Fatalf("describe(% X) = %q, %v; want %q", tc.msg, got, ok, tc.want)
		}
	}
	if _, ok := describe(smf.Message{0xF8}); ok {
		t.Fatalf("real-time bytes should have no line")
	}
}

func TestProgramsAndMerge(t *testing.T) {
	s, err := Read(bytes.NewReader(buildTwoTrackSong(t)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := Programs(s); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("programs = %v, want [0]", got)
	}
	merged, err := Merge(s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Tracks) != 1 {
		t.Fatalf("merged tracks = %d, want 1", len(merged.Tracks))
	}
	lines, err := DecodeSMF(merged)
	if err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	want := []string{
		"0, 0, Header, 0, 1, 480",
		"1, 0, Start_track",
		"1, 0, Tempo, 500000",
		"1, 0, Program_c, 0, 0",
		"1, 0, Note_on_c, 0, 60, 100",
		"1, 480, Note_off_c, 0, 60, 0",
		"1, 480, End_track",
		"0, 0, End_of_file",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("merged mismatch\n got: %q\nwant: %q", lines, want)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	lines := []string{
		"0,0,Header,0,1,380",
		"1,0,Start_track",
		"1,0,Note_on_c,1,60,127",
		"1,5,Note_on_c,1,64,127",
		"1,8,Note_on_c,1,62,0",
		"1,10,Note_on_c,1,62,0",
		"1,10,End_track",
		"0,0,End_of_file",
	}
	var buf bytes.Buffer
	if err := Encode(lines, &buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{
		"0, 0, Header, 0, 1, 380",
		"1, 0, Start_track",
		"1, 0, Note_on_c, 1, 60, 127",
		"1, 5, Note_on_c, 1, 64, 127",
		"1, 8, Note_on_c, 1, 62, 0",
		"1, 10, Note_on_c, 1, 62, 0",
		"1, 10, End_track",
		"0, 0, End_of_file",
	}
	if !reflect.DeepEqual(decoded, want) {
		t.Fatalf("round trip mismatch\n got: %q\nwant: %q", decoded, want)
	}
}

func TestEncodeRejectsInvalidStreams(t *testing.T) {
	cases := map[string][]string{
		"missing header": {"1,0,Start_track", "1,0,End_track"},
		"unsorted ticks": {"0,0,Header,0,1,380", "1,0,Start_track", "1,10,Note_on_c,1,60,100", "1,5,Note_on_c,1,60,0", "1,10,End_track"},
		"pitch range":    {"0,0,Header,0,1,380", "1,0,Start_track", "1,0,Note_on_c,1,128,100", "1,0,End_track"},
		"outside track":  {"0,0,Header,0,1,380", "1,0,Note_on_c,1,60,100"},
	}
	for name, lines := range cases {
		if err := Encode(lines, &bytes.Buffer{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	err := Encode([]string{"0,0,Header,0,1,380", "1,0,Start_track", "1,0,Lyric_t,\"la\"", "1,0,End_track"}, &bytes.Buffer{})
	if !errors.Is(err, ErrUnsupportedTag) {
		t.Fatalf("expected ErrUnsupportedTag, got %v", err)
	}
}
