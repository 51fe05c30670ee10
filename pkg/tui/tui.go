// Package tui provides a terminal user interface for browsing and playing SoundFonts
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/sfplayer/pkg/library"
	"github.com/james-see/sfplayer/pkg/player"
	"github.com/james-see/sfplayer/pkg/soundfont"
)

var (
	ivory     = lipgloss.Color("#F5F0E1")
	ebony     = lipgloss.Color("#1C1C1C")
	brass     = lipgloss.Color("#D4A017")
	felt      = lipgloss.Color("#8B1E3F")
	dimGray   = lipgloss.Color("#666666")
	errorRed  = lipgloss.Color("#FF0000")
	sounding  = lipgloss.Color("#39FF14")
	whiteKey  = lipgloss.NewStyle().Foreground(ebony).Background(ivory).Padding(0, 1)
	blackKey  = lipgloss.NewStyle().Foreground(ivory).Background(ebony).Padding(0, 1)
	activeKey = lipgloss.NewStyle().Foreground(ebony).Background(sounding).Bold(true).Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ivory).
			Background(felt).
			Padding(0, 2)

	statusStyle = lipgloss.NewStyle().
			Foreground(brass).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorRed).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimGray).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(brass).
			Padding(0, 1)
)

// Focus is the pane receiving key presses
type Focus int

const (
	FocusList Focus = iota
	FocusKeyboard
)

// refreshInterval redraws sounding keys while notes are held
const refreshInterval = 100 * time.Millisecond

type rowItem struct {
	row soundfont.Row
}

func (i rowItem) Title() string {
	return fmt.Sprintf("%03d:%03d  %s", i.row.Bank, i.row.Patch, i.row.Display)
}

func (i rowItem) Description() string {
	return fmt.Sprintf("prog %d  %s  (%s)", i.row.Program, i.row.Instrument, filepath.Base(i.row.File))
}

func (i rowItem) FilterValue() string {
	return i.row.Display + " " + i.row.Instrument
}

type libraryEventMsg struct {
	event library.Event
	ok    bool
}

type selectDoneMsg struct {
	sel     player.Selection
	applied bool
	err     error
}

type rowsLoadedMsg struct {
	seq   int
	rows  []soundfont.Row
	files int
}

type refreshMsg struct{}

// Options configures the TUI model
type Options struct {
	Hold time.Duration
}

// Model represents the TUI model
type Model struct {
	player  *player.Player
	library *library.Library
	hold    time.Duration

	list    list.Model
	spinner spinner.Model
	focus   Focus
	octave  int

	events      <-chan library.Event
	unsubscribe func()

	// loadSeq numbers row loads; loadedSeq is the newest one applied
	loadSeq   int
	loadedSeq int

	opening bool
	status  string
	err     error
	width   int
	height  int
}

// New creates a new TUI model
func New(p *player.Player, lib *library.Library, opts Options) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	l.Title = "SoundFont presets"
	l.Styles.Title = titleStyle
	l.SetShowHelp(false)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(brass)

	events, unsubscribe := lib.Subscribe()

	m := Model{
		player:      p,
		library:     lib,
		hold:        opts.Hold,
		list:        l,
		spinner:     s,
		focus:       FocusList,
		octave:      defaultOctave,
		events:      events,
		unsubscribe: unsubscribe,
		status:      "loading presets...",
	}
	return m
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForLibrary(), m.loadRows(0))
}

func (m Model) waitForLibrary() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		return libraryEventMsg{event: ev, ok: ok}
	}
}

// reload starts a row load; selection churn is ignored until it is applied
func (m *Model) reload() tea.Cmd {
	m.loadSeq++
	return m.loadRows(m.loadSeq)
}

// loadRows parses the library off the UI goroutine with the skip guard raised
func (m Model) loadRows(seq int) tea.Cmd {
	p, lib := m.player, m.library
	p.SetSkip(true)
	return func() tea.Msg {
		return rowsLoadedMsg{seq: seq, rows: lib.Rows(), files: len(lib.SoundFonts())}
	}
}

func (m *Model) applyRows(msg rowsLoadedMsg) tea.Cmd {
	defer m.player.SetSkip(false)
	if msg.seq < m.loadedSeq {
		return nil
	}
	m.loadedSeq = msg.seq

	items := make([]list.Item, 0, len(msg.rows))
	for _, r := range msg.rows {
		items = append(items, rowItem{row: r})
	}
	m.status = fmt.Sprintf("%d presets in %d files", len(msg.rows), msg.files)
	return m.list.SetItems(items)
}

func (m Model) selectRow(row soundfont.Row) tea.Cmd {
	p := m.player
	return func() tea.Msg {
		sel := row.Selection()
		applied, err := p.Select(context.Background(), sel)
		return selectDoneMsg{sel: sel, applied: applied, err: err}
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width-4, max(msg.Height-12, 5))
		return m, nil

	case libraryEventMsg:
		if !msg.ok {
			return m, nil
		}
		var cmd tea.Cmd
		if msg.event.Type == library.SoundFontsUpdated {
			cmd = m.reload()
		}
		return m, tea.Batch(cmd, m.waitForLibrary())

	case rowsLoadedMsg:
		return m, m.applyRows(msg)

	case selectDoneMsg:
		m.opening = false
		m.err = msg.err
		switch {
		case msg.err != nil:
		case !msg.applied:
			m.status = "presets are reloading, select again"
		default:
			m.status = fmt.Sprintf("selected %s on channel %d", msg.sel, msg.sel.Channel()+1)
			m.focus = FocusKeyboard
		}
		return m, nil

	case refreshMsg:
		if len(m.player.SoundingKeys()) > 0 {
			return m, refresh()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.focus == FocusKeyboard {
			return m.updateKeyboard(msg)
		}
		return m.updateList(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) quit() tea.Cmd {
	m.unsubscribe()
	return tea.Quit
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() != list.Filtering {
		switch msg.String() {
		case "q":
			return m, m.quit()
		case "tab":
			m.focus = FocusKeyboard
			return m, nil
		case "r":
			m.library.Rescan()
			return m, nil
		case "enter":
			item, ok := m.list.SelectedItem().(rowItem)
			if !ok || m.opening {
				return m, nil
			}
			m.opening = true
			m.err = nil
			return m, tea.Batch(m.spinner.Tick, m.selectRow(item.row))
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateKeyboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "esc":
		m.focus = FocusList
		return m, nil
	case "q":
		return m, m.quit()
	case "z":
		if m.octave > minOctave {
			m.octave--
		}
		return m, nil
	case "x":
		if m.octave < maxOctave {
			m.octave++
		}
		return m, nil
	case " ":
		for _, k := range m.player.SoundingKeys() {
			if err := m.player.ReleaseNote(k); err != nil {
				m.err = err
			}
		}
		return m, nil
	}

	key := keyFor(msg.String(), m.octave)
	if key < 0 {
		return m, nil
	}
	if err := m.player.PlayNote(key, m.hold); err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil
	return m, refresh()
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(m.list.View())
	s.WriteString("\n")
	s.WriteString(m.viewKeyboard())
	s.WriteString("\n")

	switch {
	case m.opening:
		s.WriteString(statusStyle.Render(fmt.Sprintf("%s opening output...", m.spinner.View())))
	case m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s", m.err.Error())))
	default:
		s.WriteString(statusStyle.Render(m.status))
	}

	s.WriteString("\n")
	if m.focus == FocusKeyboard {
		s.WriteString(helpStyle.Render("a-' play • z/x octave • space release • tab browse • q quit"))
	} else {
		s.WriteString(helpStyle.Render("↑/↓ navigate • / filter • enter select • r rescan • tab keyboard • q quit"))
	}
	return s.String()
}

func (m Model) viewKeyboard() string {
	on := make(map[int]bool)
	for _, k := range m.player.SoundingKeys() {
		on[k] = true
	}

	var keys []string
	for _, binding := range qwertyKeys {
		key := keyFor(binding, m.octave)
		if key < 0 {
			continue
		}
		style := whiteKey
		switch {
		case on[key]:
			style = activeKey
		case isAccidental(key):
			style = blackKey
		}
		keys = append(keys, style.Render(binding))
	}

	header := fmt.Sprintf("octave C%d  (%s-%s)", m.octave,
		noteName(keyFor(qwertyKeys[0], m.octave)), noteName(max(keyFor(qwertyKeys[len(qwertyKeys)-1], m.octave), 0)))
	if sel, ok := m.player.Current(); ok {
		header += fmt.Sprintf("  •  bank %d patch %d", sel.Bank, sel.Patch)
	}

	border := boxStyle
	if m.focus == FocusKeyboard {
		border = border.BorderForeground(sounding)
	}
	return border.Render(header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, keys...))
}

// Run starts the TUI application
func Run(p *player.Player, lib *library.Library, opts Options) error {
	prog := tea.NewProgram(New(p, lib, opts), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
