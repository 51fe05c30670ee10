package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// portScanTimeout bounds port enumeration (CoreMIDI can hang)
const portScanTimeout = 3 * time.Second

// PortAccess sends to MIDI output ports of the system (ALSA, CoreMIDI, WinMM)
type PortAccess struct {
	cfg    Config
	logger *log.Logger
}

// NewPortAccess creates an access over the system's MIDI output ports
func NewPortAccess(cfg Config, logger *log.Logger) (*PortAccess, error) {
	if logger == nil {
		logger = log.Default()
	}
	for _, sf := range cfg.SoundFonts {
		logger.Warn("external MIDI ports cannot load SoundFonts, ignoring", "path", sf)
	}
	return &PortAccess{cfg: cfg, logger: logger}, nil
}

func scanOutPorts(ctx context.Context) ([]drivers.Out, error) {
	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- midi.GetOutPorts()
	}()

	ctx, cancel := context.WithTimeout(ctx, portScanTimeout)
	defer cancel()

	select {
	case ports := <-ch:
		return ports, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("scanning MIDI outputs: %w", ctx.Err())
	}
}

// Outputs lists the port names
func (a *PortAccess) Outputs() ([]string, error) {
	ports, err := scanOutPorts(context.Background())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return names, nil
}

// Open opens the port named id
func (a *PortAccess) Open(ctx context.Context, id string) (Output, error) {
	ports, err := scanOutPorts(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range ports {
		if p.String() != id {
			continue
		}
		send, err := midi.SendTo(p)
		if err != nil {
			return nil, fmt.Errorf("open output %q: %w", id, err)
		}
		a.logger.Debug("port output opened", "port", id, "driver", a.cfg.Driver)
		return &portOutput{port: p, send: send}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, id)
}

type portOutput struct {
	mu     sync.Mutex
	port   drivers.Out
	send   func(midi.Message) error
	closed bool
}

func (p *portOutput) Send(msg midi.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.send(msg)
}

func (p *portOutput) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}
