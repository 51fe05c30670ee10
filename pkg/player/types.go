// Package player selects SoundFont presets on a MIDI output and plays notes on them
package player

import (
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// Key and channel constants
const (
	NumKeys = 128
	MaxBank = 128*128 - 1

	MelodicChannel    uint8 = 0
	PercussionChannel uint8 = 9

	NoteVelocity uint8 = 120
	FullLevel    uint8 = 127
)

// Controller numbers sent on selection
const (
	ControllerBankSelectMSB uint8 = 0x00
	ControllerVolume        uint8 = 0x07
	ControllerExpression    uint8 = 0x0B
	ControllerBankSelectLSB uint8 = 0x20
)

var (
	ErrInvalidSelection = errors.New("invalid instrument selection")
	ErrInvalidKey       = errors.New("invalid key")
	ErrClosed           = errors.New("player closed")
)

// Selection identifies a synthesizer preset in a SoundFont file
type Selection struct {
	File  string `json:"file"`
	Bank  int    `json:"bank"`  // 14-bit combined MSB*128+LSB
	Patch int    `json:"patch"` // program number, sent modulo 128
}

// Validate checks the selection is in range
func (s Selection) Validate() error {
	if s.File == "" {
		return fmt.Errorf("%w: empty file", ErrInvalidSelection)
	}
	if s.Bank < 0 || s.Bank > MaxBank {
		return fmt.Errorf("%w: bank %d out of range 0-%d", ErrInvalidSelection, s.Bank, MaxBank)
	}
	if s.Patch < 0 {
		return fmt.Errorf("%w: negative patch %d", ErrInvalidSelection, s.Patch)
	}
	return nil
}

// Channel returns the channel the selection plays on
func (s Selection) Channel() uint8 {
	return Channel(s.Bank)
}

// BankMSB returns the bank select coarse value
func (s Selection) BankMSB() uint8 {
	return uint8(s.Bank / 128)
}

// BankLSB returns the bank select fine value
func (s Selection) BankLSB() uint8 {
	return uint8(s.Bank % 128)
}

// Program returns the program change value
func (s Selection) Program() uint8 {
	return uint8(s.Patch % 128)
}

func (s Selection) String() string {
	return fmt.Sprintf("%s bank=%d patch=%d", s.File, s.Bank, s.Patch)
}

// Channel maps a bank to the percussion channel from 128 up, the first channel otherwise
func Channel(bank int) uint8 {
	if bank >= 128 {
		return PercussionChannel
	}
	return MelodicChannel
}

// SetupMessages returns the ordered messages that select sel on ch
func SetupMessages(ch uint8, sel Selection) []midi.Message {
	return []midi.Message{
		midi.ControlChange(ch, ControllerBankSelectMSB, sel.BankMSB()),
		midi.ControlChange(ch, ControllerBankSelectLSB, sel.BankLSB()),
		midi.ProgramChange(ch, sel.Program()),
		midi.ControlChange(ch, ControllerVolume, FullLevel),
		midi.ControlChange(ch, ControllerExpression, FullLevel),
	}
}

// State is the output lifecycle state
type State int

const (
	StateNoOutput State = iota
	StateOutputOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNoOutput:
		return "no-output"
	case StateOutputOpen:
		return "output-open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
