// Package output provides the MIDI output transports the player writes to
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
)

// Audio driver names handed to a backend before it opens
const (
	DriverDefault = "default"
	DriverALSA    = "alsa"
)

// Backend names accepted by NewOpener
const (
	BackendSynth = "synth"
	BackendPort  = "port"
)

var (
	ErrNoOutputs      = errors.New("no MIDI outputs available")
	ErrUnknownOutput  = errors.New("unknown MIDI output")
	ErrUnknownBackend = errors.New("unknown output backend")
	ErrClosed         = errors.New("output closed")
)

// SequencerDevice is probed to decide whether a hardware sequencer is present
var SequencerDevice = "/dev/snd/seq"

// Output is an open MIDI output endpoint
type Output interface {
	Send(msg midi.Message) error
	Close() error
}

// Access enumerates and opens output endpoints
type Access interface {
	Outputs() ([]string, error)
	Open(ctx context.Context, id string) (Output, error)
}

// Config is applied to a backend before any endpoint is opened
type Config struct {
	Driver     string
	SoundFonts []string
}

// Opener creates an Access configured with cfg
type Opener func(cfg Config) (Access, error)

// ProbeDriver returns the ALSA driver when a sequencer device exists
func ProbeDriver() string {
	if _, err := os.Stat(SequencerDevice); err == nil {
		return DriverALSA
	}
	return DriverDefault
}

// NewOpener returns the Opener for a backend name
func NewOpener(backend string, logger *log.Logger) (Opener, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch strings.ToLower(backend) {
	case "", BackendSynth:
		return func(cfg Config) (Access, error) {
			return NewSynthAccess(cfg, logger)
		}, nil
	case BackendPort:
		return func(cfg Config) (Access, error) {
			return NewPortAccess(cfg, logger)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

// Backends lists the backend names NewOpener accepts
func Backends() []string {
	return []string{BackendSynth, BackendPort}
}

// Tee wraps out so every message successfully sent is also passed to sink
func Tee(out Output, sink func(midi.Message)) Output {
	return &teeOutput{out: out, sink: sink}
}

type teeOutput struct {
	out  Output
	sink func(midi.Message)
}

func (t *teeOutput) Send(msg midi.Message) error {
	if err := t.out.Send(msg); err != nil {
		return err
	}
	t.sink(msg)
	return nil
}

func (t *teeOutput) Close() error {
	return t.out.Close()
}

// TeeOpener wraps every Output opened through opener with Tee
func TeeOpener(opener Opener, sink func(midi.Message)) Opener {
	return func(cfg Config) (Access, error) {
		acc, err := opener(cfg)
		if err != nil {
			return nil, err
		}
		return &teeAccess{Access: acc, sink: sink}, nil
	}
}

type teeAccess struct {
	Access
	sink func(midi.Message)
}

func (t *teeAccess) Open(ctx context.Context, id string) (Output, error) {
	out, err := t.Access.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	return Tee(out, t.sink), nil
}
