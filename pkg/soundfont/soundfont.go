// Package soundfont reads the preset and instrument hierarchy of SoundFont files
package soundfont

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/james-see/sfplayer/pkg/player"
)

// Extensions recognised as SoundFont files
var Extensions = []string{".sf2", ".sf3"}

// IsSoundFont reports whether path has a SoundFont extension
func IsSoundFont(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Zone is a preset zone linked to an instrument
type Zone struct {
	Instrument     int    // instrument generator amount, the index into the file's instruments
	InstrumentName string
}

// Preset is a bank/patch entry of a SoundFont
type Preset struct {
	Bank  int
	Patch int
	Name  string
	Zones []Zone
}

// File is the parsed hierarchy of a SoundFont
type File struct {
	Path     string
	BankName string
	Presets  []Preset
}

// Parse reads a SoundFont from r
func Parse(path string, r io.Reader) (*File, error) {
	sf, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont: %w", err)
	}

	index := make(map[*meltysynth.Instrument]int, len(sf.Instruments))
	for i, inst := range sf.Instruments {
		index[inst] = i
	}

	f := &File{Path: path}
	if sf.Info != nil {
		f.BankName = strings.TrimSpace(sf.Info.BankName)
	}

	for _, p := range sf.Presets {
		preset := Preset{
			Bank:  int(p.BankNumber),
			Patch: int(p.PatchNumber),
			Name:  strings.TrimSpace(p.Name),
		}
		for _, region := range p.Regions {
			if region.Instrument == nil {
				continue
			}
			preset.Zones = append(preset.Zones, Zone{
				Instrument:     index[region.Instrument],
				InstrumentName: strings.TrimSpace(region.Instrument.Name),
			})
		}
		sort.SliceStable(preset.Zones, func(i, j int) bool {
			return preset.Zones[i].Instrument < preset.Zones[j].Instrument
		})
		f.Presets = append(f.Presets, preset)
	}

	sort.SliceStable(f.Presets, func(i, j int) bool {
		a, b := f.Presets[i], f.Presets[j]
		if a.Bank != b.Bank {
			return a.Bank < b.Bank
		}
		return a.Patch < b.Patch
	})
	return f, nil
}

// ParseFile reads and parses the SoundFont at path
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}
	return Parse(path, bytes.NewReader(data))
}

// Row is one preset/instrument pair of a file, the unit the browser lists
type Row struct {
	File       string `json:"file"`
	BankName   string `json:"bankName"`
	Bank       int    `json:"bank"`
	Patch      int    `json:"patch"`
	PresetName string `json:"presetName"`
	Display    string `json:"display"`
	Program    int    `json:"program"`
	Instrument string `json:"instrument"`
}

// Selection returns the player selection for the row's preset
func (r Row) Selection() player.Selection {
	return player.Selection{File: r.File, Bank: r.Bank, Patch: r.Patch}
}

// Rows flattens the file into one row per preset zone, ordered by bank, patch and instrument
func (f *File) Rows() []Row {
	var rows []Row
	for _, p := range f.Presets {
		for _, z := range p.Zones {
			rows = append(rows, Row{
				File:       f.Path,
				BankName:   f.BankName,
				Bank:       p.Bank,
				Patch:      p.Patch,
				PresetName: p.Name,
				Display:    f.BankName + " / " + p.Name,
				Program:    z.Instrument,
				Instrument: z.InstrumentName,
			})
		}
	}
	return rows
}

// Entity is a SoundFont file parsed on first use
type Entity struct {
	Path string

	// parse is replaced in tests
	parse func(path string) (*File, error)

	once sync.Once
	file *File
	err  error
}

// NewEntity creates an entity for path without reading it
func NewEntity(path string) *Entity {
	return &Entity{Path: path, parse: ParseFile}
}

// Load parses the file once and returns the cached result
func (e *Entity) Load() (*File, error) {
	e.once.Do(func() {
		parse := e.parse
		if parse == nil {
			parse = ParseFile
		}
		e.file, e.err = parse(e.Path)
	})
	return e.file, e.err
}

// Invalid reports whether loading the file failed; it forces a load
func (e *Entity) Invalid() bool {
	_, err := e.Load()
	return err != nil
}

// Rows returns the entity's rows, or none when it is invalid
func (e *Entity) Rows() []Row {
	f, err := e.Load()
	if err != nil {
		return nil
	}
	return f.Rows()
}
