// Package recorder captures played MIDI messages and writes them as a Standard MIDI File
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	TicksPerQuarter = 480
	Tempo           = 120.0
)

var ErrEmpty = errors.New("nothing recorded")

type event struct {
	at  time.Time
	msg midi.Message
}

// Recorder collects timestamped channel messages
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	events []event
}

// New creates an empty recorder
func New() *Recorder {
	return &Recorder{now: time.Now}
}

// Record stores msg with the current time; it matches output.Tee's sink
func (r *Recorder) Record(msg midi.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{at: r.now(), msg: bytes.Clone(msg)})
}

// Len returns the number of recorded messages
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ticks converts elapsed wall time to ticks at the fixed tempo
func ticks(d time.Duration) uint32 {
	microsPerQuarter := 60000000.0 / Tempo
	return uint32(float64(d.Microseconds()) * TicksPerQuarter / microsPerQuarter)
}

// WriteTo encodes the recording as a single-track SMF
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	events := append([]event(nil), r.events...)
	r.mu.Unlock()

	if len(events) == 0 {
		return 0, ErrEmpty
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var track smf.Track

	// Add tempo meta event
	microsecondsPerBeat := uint32(60000000.0 / Tempo)
	track.Add(0, smf.Message([]byte{
		0xFF, 0x51, 0x03,
		byte(microsecondsPerBeat >> 16),
		byte(microsecondsPerBeat >> 8),
		byte(microsecondsPerBeat),
	}))

	start := events[0].at
	var currentTick uint32
	for _, ev := range events {
		tick := ticks(ev.at.Sub(start))
		if tick < currentTick {
			tick = currentTick
		}
		track.Add(tick-currentTick, ev.msg)
		currentTick = tick
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return 0, fmt.Errorf("failed to add track: %w", err)
	}

	n, err := s.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("failed to write MIDI: %w", err)
	}
	return n, nil
}

// WriteFile writes the recording to path
func (r *Recorder) WriteFile(path string) error {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
