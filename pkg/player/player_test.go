package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/sfplayer/pkg/output"
)

// journal records output lifecycle and traffic across every mock output
type journal struct {
	events []string
	sent   map[string][]midi.Message

	sendErr  func(msg midi.Message) error
	closeErr error
}

func newJournal() *journal {
	return &journal{sent: make(map[string][]midi.Message)}
}

type mockOutput struct {
	file string
	j    *journal
}

func (m *mockOutput) Send(msg midi.Message) error {
	if m.j.sendErr != nil {
		if err := m.j.sendErr(msg); err != nil {
			return err
		}
	}
	m.j.events = append(m.j.events, "send:"+m.file)
	m.j.sent[m.file] = append(m.j.sent[m.file], msg)
	return nil
}

func (m *mockOutput) Close() error {
	m.j.events = append(m.j.events, "close:"+m.file)
	return m.j.closeErr
}

type mockAccess struct {
	file    string
	j       *journal
	openErr error
	ids     []string
}

func (m *mockAccess) Outputs() ([]string, error) { return m.ids, nil }

func (m *mockAccess) Open(ctx context.Context, id string) (output.Output, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.j.events = append(m.j.events, "open:"+m.file)
	return &mockOutput{file: m.file, j: m.j}, nil
}

// manualClock collects scheduled callbacks so tests fire them explicitly
type manualClock struct {
	pending []func()
	delays  []time.Duration
}

func (c *manualClock) schedule(d time.Duration, f func()) {
	c.delays = append(c.delays, d)
	c.pending = append(c.pending, f)
}

func (c *manualClock) fireAll() {
	pending := c.pending
	c.pending = nil
	for _, f := range pending {
		f()
	}
}

type fixture struct {
	p       *Player
	j       *journal
	clock   *manualClock
	openErr error
	configs []output.Config
}

func newFixture() *fixture {
	f := &fixture{j: newJournal(), clock: &manualClock{}}
	opener := func(cfg output.Config) (output.Access, error) {
		f.configs = append(f.configs, cfg)
		return &mockAccess{file: cfg.SoundFonts[0], j: f.j, openErr: f.openErr, ids: []string{"first", "second"}}, nil
	}
	f.p = New(opener, Options{
		Schedule: f.clock.schedule,
		Detach:   func(fn func()) { fn() },
	})
	return f
}

func (f *fixture) selectOK(t *testing.T, sel Selection) {
	t.Helper()
	if err := f.p.SelectInstrument(context.Background(), sel); err != nil {
		t.Fatalf("SelectInstrument(%v) error = %v", sel, err)
	}
}

func (f *fixture) playOK(t *testing.T, key int, hold time.Duration) {
	t.Helper()
	if err := f.p.PlayNote(key, hold); err != nil {
		t.Fatalf("PlayNote(%d) error = %v", key, err)
	}
}

func assertMessages(t *testing.T, got []midi.Message, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("message %d = % X, want % X", i, []byte(got[i]), want[i])
		}
	}
}

func TestChannel(t *testing.T) {
	tests := []struct {
		bank int
		want uint8
	}{
		{0, 0},
		{1, 0},
		{127, 0},
		{128, 9},
		{200, 9},
		{16383, 9},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.bank), func(t *testing.T) {
			if got := Channel(tt.bank); got != tt.want {
				t.Errorf("Channel(%d) = %d, want %d", tt.bank, got, tt.want)
			}
		})
	}
}

func TestBankSelectRoundTrip(t *testing.T) {
	for _, bank := range []int{0, 127, 128, 200, 16383} {
		sel := Selection{File: "a.sf2", Bank: bank}
		msgs := SetupMessages(sel.Channel(), sel)

		var ch, cc, msb, lsb uint8
		if !msgs[0].GetControlChange(&ch, &cc, &msb) || cc != ControllerBankSelectMSB {
			t.Fatalf("bank %d: first message % X is not bank select MSB", bank, []byte(msgs[0]))
		}
		if !msgs[1].GetControlChange(&ch, &cc, &lsb) || cc != ControllerBankSelectLSB {
			t.Fatalf("bank %d: second message % X is not bank select LSB", bank, []byte(msgs[1]))
		}
		if got := int(msb)*128 + int(lsb); got != bank {
			t.Errorf("msb*128+lsb = %d, want %d", got, bank)
		}
	}
}

func TestSelectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selection
		wantErr bool
	}{
		{"valid", Selection{File: "a.sf2", Bank: 0, Patch: 5}, false},
		{"max bank", Selection{File: "a.sf2", Bank: MaxBank}, false},
		{"patch above 127", Selection{File: "a.sf2", Patch: 130}, false},
		{"empty file", Selection{Bank: 0}, true},
		{"negative bank", Selection{File: "a.sf2", Bank: -1}, true},
		{"bank too large", Selection{File: "a.sf2", Bank: MaxBank + 1}, true},
		{"negative patch", Selection{File: "a.sf2", Patch: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSelection) {
				t.Errorf("Validate() error = %v, want ErrInvalidSelection", err)
			}
		})
	}
}

func TestSelectInstrumentMelodic(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Bank: 0, Patch: 5})

	assertMessages(t, f.j.sent["a.sf2"], [][]byte{
		{0xB0, 0x00, 0x00},
		{0xB0, 0x20, 0x00},
		{0xC0, 0x05},
		{0xB0, 0x07, 0x7F},
		{0xB0, 0x0B, 0x7F},
	})
	if f.p.State() != StateOutputOpen {
		t.Errorf("State() = %v, want %v", f.p.State(), StateOutputOpen)
	}
}

func TestSelectInstrumentPercussion(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Bank: 200, Patch: 10})

	assertMessages(t, f.j.sent["a.sf2"], [][]byte{
		{0xB9, 0x00, 0x01},
		{0xB9, 0x20, 0x48},
		{0xC9, 0x0A},
		{0xB9, 0x07, 0x7F},
		{0xB9, 0x0B, 0x7F},
	})
}

func TestSelectInstrumentPatchModulo(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Patch: 130})

	if got := f.j.sent["a.sf2"][2]; !bytes.Equal(got, []byte{0xC0, 0x02}) {
		t.Errorf("program change = % X, want C0 02", []byte(got))
	}
}

func TestSelectInstrumentOpensFirstOutputOnce(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Bank: 0, Patch: 1})
	f.selectOK(t, Selection{File: "a.sf2", Bank: 128, Patch: 2})

	opens := 0
	for _, ev := range f.j.events {
		if ev == "open:a.sf2" {
			opens++
		}
	}
	if opens != 1 {
		t.Errorf("output opened %d times, want 1", opens)
	}
	if len(f.configs) != 1 || len(f.configs[0].SoundFonts) != 1 || f.configs[0].SoundFonts[0] != "a.sf2" {
		t.Errorf("configs = %+v, want one config registering a.sf2", f.configs)
	}
	if got := len(f.j.sent["a.sf2"]); got != 10 {
		t.Errorf("sent %d messages, want 10", got)
	}
	if sel, ok := f.p.Current(); !ok || sel.Bank != 128 {
		t.Errorf("Current() = %v, %v; want bank 128", sel, ok)
	}
}

func TestSelectInstrumentFileSwitch(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, 0)
	f.playOK(t, 64, 0)

	f.selectOK(t, Selection{File: "b.sf2"})

	for k := 0; k < NumKeys; k++ {
		if f.p.Sounding(k) {
			t.Errorf("key %d still sounding after file switch", k)
		}
	}

	closeAt, openAt, firstSendB := -1, -1, -1
	for i, ev := range f.j.events {
		switch ev {
		case "close:a.sf2":
			closeAt = i
		case "open:b.sf2":
			openAt = i
		case "send:b.sf2":
			if firstSendB < 0 {
				firstSendB = i
			}
		}
	}
	if closeAt < 0 || openAt < 0 || firstSendB < 0 {
		t.Fatalf("events = %v, missing close/open/send", f.j.events)
	}
	if !(closeAt < openAt && openAt < firstSendB) {
		t.Errorf("events out of order: %v", f.j.events)
	}
}

func TestSkipGuard(t *testing.T) {
	f := newFixture()
	f.p.SetSkip(true)
	if !f.p.Skipping() {
		t.Fatal("Skipping() = false after SetSkip(true)")
	}

	f.selectOK(t, Selection{File: "a.sf2"})
	if len(f.j.events) != 0 {
		t.Errorf("skipped selection produced events %v", f.j.events)
	}
	if _, ok := f.p.Current(); ok {
		t.Error("skipped selection was stored")
	}

	f.p.SetSkip(false)
	f.selectOK(t, Selection{File: "a.sf2"})
	if len(f.j.sent["a.sf2"]) != 5 {
		t.Errorf("sent %d messages, want 5", len(f.j.sent["a.sf2"]))
	}
}

func TestSkipGuardNested(t *testing.T) {
	f := newFixture()
	f.p.SetSkip(true)
	f.p.SetSkip(true)
	f.p.SetSkip(false)
	if !f.p.Skipping() {
		t.Fatal("guard lowered while a raise is still outstanding")
	}

	applied, err := f.p.Select(context.Background(), Selection{File: "a.sf2"})
	if err != nil || applied {
		t.Errorf("Select() while skipping = %v, %v, want false, nil", applied, err)
	}

	f.p.SetSkip(false)
	f.p.SetSkip(false)
	if f.p.Skipping() {
		t.Fatal("Skipping() = true after every raise was lowered")
	}
	f.p.SetSkip(true)
	if !f.p.Skipping() {
		t.Fatal("extra lower left the guard unable to rise")
	}
	f.p.SetSkip(false)

	applied, err = f.p.Select(context.Background(), Selection{File: "a.sf2"})
	if err != nil || !applied {
		t.Errorf("Select() = %v, %v, want true, nil", applied, err)
	}
}

func TestSelectInstrumentOpenFailure(t *testing.T) {
	f := newFixture()
	f.openErr = errors.New("cannot load")

	err := f.p.SelectInstrument(context.Background(), Selection{File: "bad.sf2"})
	if err == nil {
		t.Fatal("SelectInstrument() should fail when open fails")
	}
	if len(f.j.sent) != 0 {
		t.Errorf("messages sent after failed open: %v", f.j.sent)
	}
	if f.p.State() != StateNoOutput {
		t.Errorf("State() = %v, want %v", f.p.State(), StateNoOutput)
	}
	if _, ok := f.p.Current(); ok {
		t.Error("failed selection was stored")
	}

	// playing without an output is silently ignored
	f.playOK(t, 60, 0)

	f.openErr = nil
	f.selectOK(t, Selection{File: "bad.sf2"})
	if len(f.j.sent["bad.sf2"]) != 5 {
		t.Errorf("retry sent %d messages, want 5", len(f.j.sent["bad.sf2"]))
	}
}

func TestSelectInstrumentNoOutputs(t *testing.T) {
	p := New(func(cfg output.Config) (output.Access, error) {
		return &mockAccess{file: cfg.SoundFonts[0], j: newJournal()}, nil
	}, Options{})

	err := p.SelectInstrument(context.Background(), Selection{File: "a.sf2"})
	if !errors.Is(err, output.ErrNoOutputs) {
		t.Errorf("SelectInstrument() error = %v, want ErrNoOutputs", err)
	}
}

func TestPlayNoteWithoutSelection(t *testing.T) {
	f := newFixture()
	f.playOK(t, 60, 100*time.Millisecond)

	if len(f.j.events) != 0 {
		t.Errorf("events = %v, want none", f.j.events)
	}
	if len(f.clock.pending) != 0 {
		t.Error("note-off scheduled without output")
	}
}

func TestPlayNoteInvalidKey(t *testing.T) {
	f := newFixture()
	for _, key := range []int{-1, 128, 300} {
		if err := f.p.PlayNote(key, 0); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("PlayNote(%d) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestPlayNoteRetrigger(t *testing.T) {
	for _, key := range []int{0, 60, 127} {
		t.Run(fmt.Sprint(key), func(t *testing.T) {
			f := newFixture()
			f.selectOK(t, Selection{File: "a.sf2"})
			f.playOK(t, key, 0)
			before := len(f.j.sent["a.sf2"])
			f.playOK(t, key, 0)

			k := byte(key)
			assertMessages(t, f.j.sent["a.sf2"][before:], [][]byte{
				{0x90, k, 0x00},
				{0x90, k, 0x78},
			})
			if !f.p.Sounding(key) {
				t.Error("key not sounding after retrigger")
			}
		})
	}
}

func TestPlayNoteHoldReleases(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, 500*time.Millisecond)

	if len(f.clock.delays) != 1 || f.clock.delays[0] != 500*time.Millisecond {
		t.Fatalf("scheduled delays = %v, want [500ms]", f.clock.delays)
	}

	before := len(f.j.sent["a.sf2"])
	f.clock.fireAll()

	assertMessages(t, f.j.sent["a.sf2"][before:], [][]byte{{0x80, 60, 0x00}})
	if f.p.Sounding(60) {
		t.Error("key still sounding after hold elapsed")
	}
}

func TestPlayNoteHoldSuppressedByRetrigger(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, 500*time.Millisecond)
	f.playOK(t, 60, 0)

	// the first hold elapses after the retrigger
	before := len(f.j.sent["a.sf2"])
	f.clock.fireAll()

	if got := f.j.sent["a.sf2"][before:]; len(got) != 0 {
		t.Errorf("stale note-off emitted: %v", got)
	}
	if !f.p.Sounding(60) {
		t.Error("retriggered note was cut by the stale note-off")
	}

	offs := 0
	for _, msg := range f.j.sent["a.sf2"] {
		if bytes.Equal(msg, []byte{0x90, 60, 0}) || bytes.Equal(msg, []byte{0x80, 60, 0}) {
			offs++
		}
	}
	if offs != 1 {
		t.Errorf("got %d offs for key 60, want 1", offs)
	}
}

func TestPlayNoteHoldUsesTriggerChannel(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Bank: 200})
	f.playOK(t, 38, 250*time.Millisecond)

	f.selectOK(t, Selection{File: "a.sf2", Bank: 0})
	before := len(f.j.sent["a.sf2"])
	f.clock.fireAll()

	assertMessages(t, f.j.sent["a.sf2"][before:], [][]byte{{0x89, 38, 0x00}})
}

func TestPlayNoteHoldSuppressedByFileSwitch(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, 500*time.Millisecond)

	f.selectOK(t, Selection{File: "b.sf2"})
	f.playOK(t, 60, 0)
	before := len(f.j.sent["b.sf2"])
	f.clock.fireAll()

	if got := f.j.sent["b.sf2"][before:]; len(got) != 0 {
		t.Errorf("note-off from previous file reached new output: %v", got)
	}
	if !f.p.Sounding(60) {
		t.Error("note on new file was released by an old timer")
	}
}

func TestFileSwitchLogsCloseFailure(t *testing.T) {
	f := newFixture()
	var logs bytes.Buffer
	f.p.logger = log.New(&logs)
	f.j.closeErr = errors.New("boom")

	f.selectOK(t, Selection{File: "a.sf2"})
	f.selectOK(t, Selection{File: "b.sf2"})

	out := logs.String()
	for _, want := range []string{"closing output failed", "file=a.sf2", "err=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
	if f.p.State() != StateOutputOpen {
		t.Errorf("State() = %v, want %v", f.p.State(), StateOutputOpen)
	}
	if len(f.j.sent["b.sf2"]) != 5 {
		t.Errorf("sent %d setup messages to b.sf2, want 5", len(f.j.sent["b.sf2"]))
	}
}

func TestPlayNoteRetriggerSendFailure(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, 500*time.Millisecond)

	f.j.sendErr = func(msg midi.Message) error {
		var ch, key, vel uint8
		if msg.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			return errors.New("port gone")
		}
		return nil
	}
	before := len(f.j.sent["a.sf2"])
	if err := f.p.PlayNote(60, 0); err == nil {
		t.Fatal("PlayNote() error = nil, want send failure")
	}
	if f.p.Sounding(60) {
		t.Error("key still sounding after its note was cut")
	}

	f.clock.fireAll()
	assertMessages(t, f.j.sent["a.sf2"][before:], [][]byte{{0x90, 60, 0x00}})
}

func TestReleaseNote(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2", Bank: 128})
	f.playOK(t, 40, time.Second)

	before := len(f.j.sent["a.sf2"])
	if err := f.p.ReleaseNote(40); err != nil {
		t.Fatalf("ReleaseNote() error = %v", err)
	}
	if err := f.p.ReleaseNote(40); err != nil {
		t.Fatalf("second ReleaseNote() error = %v", err)
	}
	f.clock.fireAll()

	assertMessages(t, f.j.sent["a.sf2"][before:], [][]byte{{0x89, 40, 0x00}})
	if keys := f.p.SoundingKeys(); len(keys) != 0 {
		t.Errorf("SoundingKeys() = %v, want none", keys)
	}
}

func TestClose(t *testing.T) {
	f := newFixture()
	f.selectOK(t, Selection{File: "a.sf2"})
	f.playOK(t, 60, time.Second)

	if err := f.p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if f.p.State() != StateClosed {
		t.Errorf("State() = %v, want %v", f.p.State(), StateClosed)
	}
	if last := f.j.events[len(f.j.events)-1]; last != "close:a.sf2" {
		t.Errorf("last event = %q, want close:a.sf2", last)
	}

	sent := len(f.j.sent["a.sf2"])
	f.clock.fireAll()
	f.playOK(t, 61, 0)
	if len(f.j.sent["a.sf2"]) != sent {
		t.Error("messages sent after Close()")
	}

	err := f.p.SelectInstrument(context.Background(), Selection{File: "a.sf2"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("SelectInstrument() after Close error = %v, want ErrClosed", err)
	}
	if err := f.p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNoOutput, "no-output"},
		{StateOutputOpen, "output-open"},
		{StateClosed, "closed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
