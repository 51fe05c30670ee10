package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
	"github.com/sinshu/go-meltysynth/meltysynth"
	"gitlab.com/gomidi/midi/v2"
)

// SynthEndpoint is the only endpoint the software synth exposes
const SynthEndpoint = "meltysynth"

const (
	synthSampleRate = 44100
	synthChannels   = 2
)

// oto allows a single context per process
var (
	otoMu    sync.Mutex
	otoCtx   *oto.Context
	otoReady chan struct{}
	otoErr   error
)

func audioContext(driver string) (*oto.Context, chan struct{}, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil || otoErr != nil {
		return otoCtx, otoReady, otoErr
	}

	opts := &oto.NewContextOptions{
		SampleRate:   synthSampleRate,
		ChannelCount: synthChannels,
		Format:       oto.FormatFloat32LE,
	}
	if driver == DriverALSA {
		opts.BufferSize = 20 * time.Millisecond
	}

	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		otoErr = fmt.Errorf("failed to create audio context: %w", err)
		return nil, nil, otoErr
	}
	otoCtx = ctx
	otoReady = ready
	return otoCtx, otoReady, nil
}

// SynthAccess renders MIDI through go-meltysynth to the default audio device
type SynthAccess struct {
	cfg    Config
	logger *log.Logger
}

// NewSynthAccess creates a software synth access for the registered SoundFonts
func NewSynthAccess(cfg Config, logger *log.Logger) (*SynthAccess, error) {
	if len(cfg.SoundFonts) == 0 {
		return nil, fmt.Errorf("synth backend: no SoundFont registered")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SynthAccess{cfg: cfg, logger: logger}, nil
}

// Outputs returns the single synth endpoint
func (a *SynthAccess) Outputs() ([]string, error) {
	return []string{SynthEndpoint}, nil
}

// Open loads the SoundFont, starts audio playback and returns the endpoint
func (a *SynthAccess) Open(ctx context.Context, id string) (Output, error) {
	if id != SynthEndpoint {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, id)
	}

	sf, err := loadSoundFont(a.cfg.SoundFonts[0])
	if err != nil {
		return nil, err
	}
	for _, extra := range a.cfg.SoundFonts[1:] {
		a.logger.Warn("synth uses a single SoundFont, ignoring", "path", extra)
	}

	synth, err := meltysynth.NewSynthesizer(sf, meltysynth.NewSynthesizerSettings(synthSampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	actx, ready, err := audioContext(a.cfg.Driver)
	if err != nil {
		return nil, err
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := &synthOutput{synth: synth}
	player := actx.NewPlayer(out)
	out.player = player
	player.Play()

	a.logger.Debug("synth output opened", "soundfont", a.cfg.SoundFonts[0], "driver", a.cfg.Driver)
	return out, nil
}

func loadSoundFont(path string) (*meltysynth.SoundFont, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SoundFont: %w", err)
	}
	defer func() { _ = f.Close() }()

	sf, err := meltysynth.NewSoundFont(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load SoundFont %s: %w", path, err)
	}
	return sf, nil
}

// engine is the part of meltysynth.Synthesizer the output drives
type engine interface {
	ProcessMidiMessage(channel, command, data1, data2 int32)
	Render(left, right []float32)
	NoteOffAll(immediate bool)
}

// audioPlayer is the part of oto.Player the output drives
type audioPlayer interface {
	Pause()
	Close() error
}

type synthOutput struct {
	mu     sync.Mutex
	synth  engine
	player audioPlayer
	closed bool

	left  []float32
	right []float32
}

func (s *synthOutput) Send(msg midi.Message) error {
	if len(msg) == 0 {
		return nil
	}
	status := msg[0]
	// System messages have no meaning for the synth
	if status < 0x80 || status >= 0xF0 {
		return nil
	}

	var data1, data2 int32
	if len(msg) > 1 {
		data1 = int32(msg[1])
	}
	if len(msg) > 2 {
		data2 = int32(msg[2])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.synth.ProcessMidiMessage(int32(status&0x0F), int32(status&0xF0), data1, data2)
	return nil
}

// Read renders interleaved float32 stereo frames for oto
func (s *synthOutput) Read(p []byte) (int, error) {
	frames := len(p) / (4 * synthChannels)
	if frames == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
	}
	left, right := s.left[:frames], s.right[:frames]
	if s.closed {
		clear(left)
		clear(right)
	} else {
		s.synth.Render(left, right)
	}

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(right[i]))
	}
	return frames * 4 * synthChannels, nil
}

func (s *synthOutput) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.synth.NoteOffAll(true)
	s.mu.Unlock()

	s.player.Pause()
	return s.player.Close()
}
