package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const plugPollInterval = 2 * time.Second

// SerialConfig configures the serial channel provider.
type SerialConfig struct {
	// Port pins the provider to one device path (e.g. /dev/ttyACM0).
	// Empty means any single available port qualifies.
	Port string
	// BaudRate defaults to 115200.
	BaudRate int
}

// SerialProvider exposes serial ports as device channels. Plug events
// come from polling the port list; the OS gives us no push
// notification through the serial library.
type SerialProvider struct {
	cfg SerialConfig
	log zerolog.Logger

	plugs chan PlugEvent

	mu       sync.Mutex
	lastSeen map[string]bool
	lastUsed string

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

var _ Provider = (*SerialProvider)(nil)

// NewSerialProvider returns a provider polling for plug events once
// started by PlugEvents.
func NewSerialProvider(cfg SerialConfig, logger zerolog.Logger) *SerialProvider {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	return &SerialProvider{
		cfg:      cfg,
		log:      logger,
		plugs:    make(chan PlugEvent, 16),
		lastSeen: make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// ListAuthorized returns the pinned or last-used port when it is
// currently present.
func (p *SerialProvider) ListAuthorized() []string {
	ports := p.available()
	p.mu.Lock()
	remembered := p.lastUsed
	p.mu.Unlock()
	if remembered == "" {
		remembered = p.cfg.Port
	}
	if remembered != "" && ports[remembered] {
		return []string{remembered}
	}
	return nil
}

// Request picks the pinned port, or the single available port when
// exactly one exists. More than one port with no pin counts as an
// ambiguous prompt the daemon cannot answer, so it reports no channel.
func (p *SerialProvider) Request() (string, error) {
	ports := p.available()
	if p.cfg.Port != "" {
		if ports[p.cfg.Port] {
			return p.cfg.Port, nil
		}
		return "", ErrNoChannel
	}
	if len(ports) == 1 {
		for name := range ports {
			return name, nil
		}
	}
	return "", ErrNoChannel
}

// Open opens the named serial port.
func (p *SerialProvider) Open(name string) (Channel, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: p.cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", name, err)
	}
	p.mu.Lock()
	p.lastUsed = name
	p.mu.Unlock()
	return &serialChannel{name: name, port: port}, nil
}

// PlugEvents starts the poll watcher on first call and returns the
// event channel.
func (p *SerialProvider) PlugEvents() <-chan PlugEvent {
	p.startOnce.Do(func() {
		go p.watch()
	})
	return p.plugs
}

// Close stops the plug watcher.
func (p *SerialProvider) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *SerialProvider) watch() {
	ticker := time.NewTicker(plugPollInterval)
	defer ticker.Stop()

	p.mu.Lock()
	p.lastSeen = p.available()
	p.mu.Unlock()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			now := p.available()
			p.mu.Lock()
			prev := p.lastSeen
			p.lastSeen = now
			p.mu.Unlock()

			for name := range now {
				if !prev[name] {
					p.notify(PlugEvent{Name: name, Attached: true})
				}
			}
			for name := range prev {
				if !now[name] {
					p.notify(PlugEvent{Name: name, Attached: false})
				}
			}
		}
	}
}

func (p *SerialProvider) notify(ev PlugEvent) {
	select {
	case p.plugs <- ev:
	default:
		p.log.Warn().Str("port", ev.Name).Msg("plug event dropped")
	}
}

func (p *SerialProvider) available() map[string]bool {
	names, err := serial.GetPortsList()
	if err != nil {
		p.log.Debug().Err(err).Msg("serial port enumeration failed")
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

type serialChannel struct {
	name string
	port serial.Port
}

func (c *serialChannel) Name() string                { return c.name }
func (c *serialChannel) Read(b []byte) (int, error)  { return c.port.Read(b) }
func (c *serialChannel) Write(b []byte) (int, error) { return c.port.Write(b) }
func (c *serialChannel) Close() error                { return c.port.Close() }
