package tui

import "fmt"

// qwerty keys ordered like a piano: home row naturals, upper row accidentals
var qwertyKeys = []string{"a", "w", "s", "e", "d", "f", "t", "g", "y", "h", "u", "j", "k", "o", "l", "p", ";", "'"}

var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

const (
	minOctave     = -1
	maxOctave     = 8
	defaultOctave = 4
)

// noteName returns the name of a MIDI key with C4 = 60
func noteName(key int) string {
	return fmt.Sprintf("%s%d", noteNames[key%12], key/12-1)
}

func isAccidental(key int) bool {
	switch key % 12 {
	case 1, 3, 6, 8, 10:
		return true
	}
	return false
}

// keyFor maps a qwerty key to a MIDI key in octave, or -1
func keyFor(binding string, octave int) int {
	for i, k := range qwertyKeys {
		if k == binding {
			key := (octave+1)*12 + i
			if key < 0 || key > 127 {
				return -1
			}
			return key
		}
	}
	return -1
}
