// Package library keeps the configured SoundFont directories and the files found in them
package library

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/james-see/sfplayer/pkg/config"
	"github.com/james-see/sfplayer/pkg/soundfont"
)

// EventType identifies what changed
type EventType int

const (
	DirectoriesUpdated EventType = iota
	SoundFontsUpdated
)

func (t EventType) String() string {
	switch t {
	case DirectoriesUpdated:
		return "directories-updated"
	case SoundFontsUpdated:
		return "soundfonts-updated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers
type Event struct {
	Type EventType
}

// Library is the directory store backed by the config file
type Library struct {
	cfg    *config.Config
	logger *log.Logger

	mu         sync.RWMutex
	soundFonts []*soundfont.Entity

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New creates a library over cfg and scans its directories
func New(cfg *config.Config, logger *log.Logger) *Library {
	if logger == nil {
		logger = log.Default()
	}
	l := &Library{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[int]chan Event),
	}
	l.Rescan()
	return l
}

// Subscribe returns a channel of change events and a function that cancels it.
// Events are dropped for subscribers that are not keeping up.
func (l *Library) Subscribe() (<-chan Event, func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan Event, 8)
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			defer l.subMu.Unlock()
			delete(l.subs, id)
			close(ch)
		})
	}
}

func (l *Library) notify(t EventType) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- Event{Type: t}:
		default:
		}
	}
}

// Directories returns a copy of the directory list
func (l *Library) Directories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.cfg.SoundFontPaths)
}

// SetDirectories replaces the directory list, saves it and rescans
func (l *Library) SetDirectories(dirs []string) error {
	l.mu.Lock()
	l.cfg.SoundFontPaths = dedupe(dirs)
	err := l.cfg.Save()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.notify(DirectoriesUpdated)
	l.Rescan()
	return nil
}

// AddDirectories appends dirs not already present
func (l *Library) AddDirectories(dirs ...string) error {
	return l.SetDirectories(append(l.Directories(), dirs...))
}

// RemoveDirectories drops dirs from the list
func (l *Library) RemoveDirectories(dirs ...string) error {
	kept := slices.DeleteFunc(l.Directories(), func(d string) bool {
		return slices.Contains(dirs, d)
	})
	return l.SetDirectories(kept)
}

// Rescan enumerates SoundFont files in every directory
func (l *Library) Rescan() {
	var entities []*soundfont.Entity
	for _, dir := range l.Directories() {
		for _, path := range l.scanDir(dir) {
			entities = append(entities, soundfont.NewEntity(path))
		}
	}

	l.mu.Lock()
	l.soundFonts = entities
	l.mu.Unlock()

	l.notify(SoundFontsUpdated)
}

func (l *Library) scanDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Warn("skipping SoundFont directory", "dir", dir, "err", err)
		return nil
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !soundfont.IsSoundFont(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths
}

// SoundFonts returns the files found by the last scan
func (l *Library) SoundFonts() []*soundfont.Entity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.soundFonts)
}

// Find returns the entity for path
func (l *Library) Find(path string) (*soundfont.Entity, bool) {
	for _, e := range l.SoundFonts() {
		if e.Path == path {
			return e, true
		}
	}
	return nil, false
}

// Rows returns the rows of every valid SoundFont
func (l *Library) Rows() []soundfont.Row {
	var rows []soundfont.Row
	for _, e := range l.SoundFonts() {
		if e.Invalid() {
			continue
		}
		rows = append(rows, e.Rows()...)
	}
	return rows
}

func dedupe(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
