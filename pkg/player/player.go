package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/sfplayer/pkg/output"
)

// Options configures a Player
type Options struct {
	Logger *log.Logger

	// Schedule runs f once after d without blocking the caller
	Schedule func(d time.Duration, f func())

	// Detach runs fire-and-forget work such as closing a replaced output
	Detach func(f func())
}

type session struct {
	file string
	out  output.Output
}

// Player owns the open output session and per-key sounding state
type Player struct {
	opener   output.Opener
	logger   *log.Logger
	schedule func(time.Duration, func())
	detach   func(func())

	skip atomic.Int32

	mu      sync.Mutex
	session *session
	current *Selection
	closed  bool

	keys [NumKeys]bool
	// gens invalidates pending note-offs when a key is re-triggered or reset
	gens [NumKeys]uint64
	// chans holds the channel each sounding key was triggered on
	chans [NumKeys]uint8
}

// New creates a Player that opens outputs through opener
func New(opener output.Opener, opts Options) *Player {
	p := &Player{
		opener:   opener,
		logger:   opts.Logger,
		schedule: opts.Schedule,
		detach:   opts.Detach,
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.schedule == nil {
		p.schedule = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if p.detach == nil {
		p.detach = func(f func()) { go f() }
	}
	return p
}

// SetSkip raises or lowers the guard that ignores selections during list reloads.
// Raises are counted; the guard stays up until every raise is lowered.
func (p *Player) SetSkip(skip bool) {
	if skip {
		p.skip.Add(1)
		return
	}
	for {
		n := p.skip.Load()
		if n <= 0 || p.skip.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Skipping reports whether selections are currently ignored
func (p *Player) Skipping() bool {
	return p.skip.Load() > 0
}

// SelectInstrument makes sel the active preset, reopening the output when the file changes
func (p *Player) SelectInstrument(ctx context.Context, sel Selection) error {
	_, err := p.Select(ctx, sel)
	return err
}

// Select is SelectInstrument reporting whether sel was applied or ignored by the skip guard
func (p *Player) Select(ctx context.Context, sel Selection) (bool, error) {
	if p.Skipping() {
		return false, nil
	}
	if err := sel.Validate(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrClosed
	}

	if p.session != nil && p.session.file != sel.File {
		p.teardownLocked()
	}

	if p.session == nil {
		s, err := p.open(ctx, sel.File)
		if err != nil {
			p.current = nil
			return false, fmt.Errorf("select %s: %w", sel, err)
		}
		p.session = s
	}
	p.current = &sel

	ch := sel.Channel()
	for _, msg := range SetupMessages(ch, sel) {
		if err := p.session.out.Send(msg); err != nil {
			return false, fmt.Errorf("send %s: %w", msg, err)
		}
	}

	p.logger.Debug("instrument selected", "file", sel.File, "bank", sel.Bank, "patch", sel.Patch, "channel", ch)
	return true, nil
}

func (p *Player) open(ctx context.Context, file string) (*session, error) {
	acc, err := p.opener(output.Config{
		Driver:     output.ProbeDriver(),
		SoundFonts: []string{file},
	})
	if err != nil {
		return nil, err
	}

	ids, err := acc.Outputs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, output.ErrNoOutputs
	}

	out, err := acc.Open(ctx, ids[0])
	if err != nil {
		return nil, err
	}

	p.logger.Info("output opened", "file", file, "output", ids[0])
	return &session{file: file, out: out}, nil
}

// teardownLocked detaches the session and closes it in the background
func (p *Player) teardownLocked() {
	old := p.session
	p.session = nil
	p.resetKeysLocked()

	p.detach(func() {
		if err := old.out.Close(); err != nil {
			p.logger.Warn("closing output failed", "file", old.file, "err", err)
		}
	})
}

func (p *Player) resetKeysLocked() {
	for k := range p.keys {
		p.keys[k] = false
		p.gens[k]++
	}
}

// PlayNote sounds key on the current selection's channel; a positive hold schedules its release
func (p *Player) PlayNote(key int, hold time.Duration) error {
	if key < 0 || key >= NumKeys {
		return fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}
	if hold < 0 {
		hold = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.session == nil || p.current == nil {
		return nil
	}

	ch := p.current.Channel()
	k := uint8(key)
	out := p.session.out

	if p.keys[key] {
		if err := out.Send(midi.NoteOn(p.chans[key], k, 0)); err != nil {
			return fmt.Errorf("retrigger key %d: %w", key, err)
		}
		p.keys[key] = false
		p.gens[key]++
	}
	if err := out.Send(midi.NoteOn(ch, k, NoteVelocity)); err != nil {
		return fmt.Errorf("note on key %d: %w", key, err)
	}

	p.keys[key] = true
	p.chans[key] = ch
	p.gens[key]++
	gen := p.gens[key]

	if hold > 0 {
		p.schedule(hold, func() { p.expire(key, gen) })
	}
	return nil
}

// expire releases key unless it was re-triggered or reset since generation gen
func (p *Player) expire(key int, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gens[key] != gen {
		return
	}
	if err := p.releaseLocked(key); err != nil {
		p.logger.Warn("note off failed", "key", key, "err", err)
	}
}

// ReleaseNote stops key if it is sounding
func (p *Player) ReleaseNote(key int) error {
	if key < 0 || key >= NumKeys {
		return fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(key)
}

func (p *Player) releaseLocked(key int) error {
	if p.closed || p.session == nil || !p.keys[key] {
		return nil
	}
	p.keys[key] = false
	p.gens[key]++
	return p.session.out.Send(midi.NoteOff(p.chans[key], uint8(key)))
}

// Sounding reports whether key is currently on
func (p *Player) Sounding(key int) bool {
	if key < 0 || key >= NumKeys {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[key]
}

// SoundingKeys returns the keys currently on, in ascending order
func (p *Player) SoundingKeys() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var keys []int
	for k, on := range p.keys {
		if on {
			keys = append(keys, k)
		}
	}
	return keys
}

// Current returns the active selection
func (p *Player) Current() (Selection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Selection{}, false
	}
	return *p.current, true
}

// State returns the output lifecycle state
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return StateClosed
	case p.session != nil:
		return StateOutputOpen
	default:
		return StateNoOutput
	}
}

// Close closes any open output; the player is unusable afterwards
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.resetKeysLocked()
	p.current = nil

	if p.session == nil {
		return nil
	}
	s := p.session
	p.session = nil
	if err := s.out.Close(); err != nil {
		return fmt.Errorf("close output for %s: %w", s.file, err)
	}
	return nil
}
