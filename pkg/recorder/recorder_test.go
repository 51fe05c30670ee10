package recorder

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func TestTicks(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want uint32
	}{
		{0, 0},
		{500 * time.Millisecond, 480},
		{250 * time.Millisecond, 240},
		{time.Second, 960},
	}
	for _, tt := range tests {
		if got := ticks(tt.d); got != tt.want {
			t.Errorf("ticks(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestWriteToEmpty(t *testing.T) {
	r := New()
	if _, err := r.WriteTo(&bytes.Buffer{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("WriteTo() error = %v, want ErrEmpty", err)
	}
}

func TestWriteTo(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r := New()
	r.now = func() time.Time { return clock }

	r.Record(midi.ProgramChange(0, 5))
	r.Record(midi.NoteOn(0, 60, 120))
	clock = base.Add(500 * time.Millisecond)
	r.Record(midi.NoteOff(0, 60))

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if string(buf.Bytes()[:4]) != "MThd" {
		t.Fatalf("output does not start with MThd")
	}

	s, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if len(s.Tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(s.Tracks))
	}

	var noteOffDelta uint32 = 1
	var sawNoteOn bool
	for _, ev := range s.Tracks[0] {
		msg := []byte(ev.Message)
		switch {
		case bytes.Equal(msg, []byte{0x90, 60, 120}):
			sawNoteOn = true
		case bytes.Equal(msg, []byte{0x80, 60, 0}):
			noteOffDelta = ev.Delta
		}
	}
	if !sawNoteOn {
		t.Error("note on missing from track")
	}
	if noteOffDelta != TicksPerQuarter {
		t.Errorf("note off delta = %d, want %d", noteOffDelta, TicksPerQuarter)
	}
}

func TestWriteFile(t *testing.T) {
	r := New()
	r.Record(midi.NoteOn(9, 36, 120))

	path := filepath.Join(t.TempDir(), "take.mid")
	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 14 {
		t.Errorf("file too short: %d bytes", len(data))
	}
}
