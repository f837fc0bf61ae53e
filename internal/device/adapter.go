package device

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/framing"
	"github.com/danmuck/signlink/internal/observability"
)

// State is the adapter connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrorKind classifies surfaced adapter errors.
type ErrorKind int

const (
	// ErrorDeviceLost: the open channel was unplugged mid-session.
	// Auto-clears on the next successful connect.
	ErrorDeviceLost ErrorKind = iota
	// ErrorRead: the read loop hit an unexpected I/O failure.
	ErrorRead
)

// EventKind tags adapter events.
type EventKind int

const (
	// EventLine: one complete framed line from the device.
	EventLine EventKind = iota
	// EventState: connection state changed.
	EventState
	// EventError: a surfaced error occurred.
	EventError
)

// Event is one observation from the device channel, consumed by the
// transport router.
type Event struct {
	Kind      EventKind
	Line      string
	Timestamp time.Time
	State     State
	Err       ErrorKind
}

// teardownGrace bounds how long Disconnect waits for the read loop to
// release the channel before returning anyway.
const teardownGrace = 500 * time.Millisecond

// link is one open connection: the channel, its teardown signal, and
// the read loop's completion signal. Replaced wholesale on reconnect so
// late activity from an old loop can be discarded by identity.
type link struct {
	ch   Channel
	stop chan struct{}
	done chan struct{}
}

// Adapter owns one device channel at a time and republishes its framed
// lines as events.
type Adapter struct {
	provider Provider
	log      zerolog.Logger

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	startOnce sync.Once

	// connectMu serializes teardown+open sequences. Connect (HTTP) and
	// tryReconnect (plug watcher) run on different goroutines; without
	// this, two overlapping opens can both install a link and orphan
	// the loser's read loop.
	connectMu sync.Mutex

	mu      sync.Mutex
	current *link

	state atomic.Int32
}

// NewAdapter returns a disconnected adapter. Call Start to enable
// opportunistic reconnection, Connect for a user-initiated attempt.
func NewAdapter(provider Provider, logger zerolog.Logger) *Adapter {
	return &Adapter{
		provider: provider,
		log:      logger,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Events delivers lines, state changes, and surfaced errors.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// State reports the current connection state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Start attempts to reuse a previously authorized channel and then
// watches plug events, reconnecting opportunistically. Failures on this
// path are logged, never surfaced.
func (a *Adapter) Start() {
	a.startOnce.Do(func() {
		go func() {
			a.tryReconnect()
			for {
				select {
				case <-a.done:
					return
				case ev, ok := <-a.provider.PlugEvents():
					if !ok {
						return
					}
					a.handlePlug(ev)
				}
			}
		}()
	})
}

// Connect is the user-initiated path: prompt for a channel and open it.
// A cancelled prompt is a silent no-op; an absent device returns
// ErrNoChannel.
func (a *Adapter) Connect() error {
	name, err := a.provider.Request()
	if err != nil {
		if errors.Is(err, ErrSelectionCancelled) {
			return nil
		}
		return err
	}
	return a.open(name)
}

// Disconnect tears down the open channel. Idempotent; when it returns
// the read loop has released the channel (bounded by a short grace
// period), so a following Connect cannot race the teardown.
func (a *Adapter) Disconnect() {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	a.detach()
}

func (a *Adapter) detach() {
	a.mu.Lock()
	l := a.current
	a.current = nil
	a.mu.Unlock()

	a.teardown(l)
	if a.swapState(StateDisconnected) {
		a.emit(Event{Kind: EventState, State: StateDisconnected, Timestamp: time.Now()})
	}
}

// Close shuts the adapter down for good.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.Disconnect()
	})
}

func (a *Adapter) open(name string) error {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	a.detach()

	a.setState(StateConnecting)
	a.emit(Event{Kind: EventState, State: StateConnecting, Timestamp: time.Now()})

	ch, err := a.provider.Open(name)
	if err != nil {
		a.setState(StateDisconnected)
		a.emit(Event{Kind: EventState, State: StateDisconnected, Timestamp: time.Now()})
		return err
	}

	l := &link{ch: ch, stop: make(chan struct{}), done: make(chan struct{})}
	a.mu.Lock()
	a.current = l
	a.mu.Unlock()

	a.setState(StateConnected)
	a.emit(Event{Kind: EventState, State: StateConnected, Timestamp: time.Now()})
	a.log.Info().Str("channel", name).Msg("device connected")
	observability.RecordDeviceConnect()

	go a.readLoop(l)
	return nil
}

// tryReconnect opens the most recently authorized channel without
// prompting. Opportunistic: failures are swallowed.
func (a *Adapter) tryReconnect() {
	if a.State() == StateConnected {
		return
	}
	authorized := a.provider.ListAuthorized()
	if len(authorized) == 0 {
		return
	}
	if err := a.open(authorized[0]); err != nil {
		a.log.Debug().Err(err).Str("channel", authorized[0]).Msg("opportunistic reconnect failed")
	}
}

func (a *Adapter) handlePlug(ev PlugEvent) {
	if ev.Attached {
		a.tryReconnect()
		return
	}

	a.mu.Lock()
	l := a.current
	lost := l != nil && l.ch.Name() == ev.Name
	if lost {
		a.current = nil
	}
	a.mu.Unlock()
	if !lost {
		return
	}

	a.log.Info().Str("channel", ev.Name).Msg("device unplugged")
	a.teardown(l)
	a.setState(StateDisconnected)
	a.emit(Event{Kind: EventState, State: StateDisconnected, Timestamp: time.Now()})
	a.emit(Event{Kind: EventError, Err: ErrorDeviceLost, Timestamp: time.Now()})
}

// readLoop feeds every chunk to a framer owned by this connection and
// republishes each completed line. It exits on teardown or I/O error.
func (a *Adapter) readLoop(l *link) {
	defer close(l.done)

	framer := framing.New()
	buf := make([]byte, 512)
	for {
		n, err := l.ch.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				observability.RecordDeviceLine()
				a.emit(Event{Kind: EventLine, Line: line, Timestamp: time.Now()})
			}
			if d := framer.Dropped(); d > 0 {
				observability.SetDeviceBytesDropped(d)
			}
		}
		if err != nil {
			select {
			case <-l.stop:
				// Expected teardown; not an error.
			default:
				if line, ok := framer.Flush(); ok {
					a.emit(Event{Kind: EventLine, Line: line, Timestamp: time.Now()})
				}
				a.log.Error().Err(err).Msg("device read failed")
				a.dropIfCurrent(l)
			}
			return
		}
	}
}

// dropIfCurrent transitions to Disconnected only if this link is still
// the adapter's current one. The read loop does not retry opening; the
// plug watcher owns retries.
func (a *Adapter) dropIfCurrent(l *link) {
	a.mu.Lock()
	current := a.current == l
	if current {
		a.current = nil
	}
	a.mu.Unlock()
	if !current {
		return
	}
	_ = l.ch.Close()
	a.setState(StateDisconnected)
	a.emit(Event{Kind: EventState, State: StateDisconnected, Timestamp: time.Now()})
	a.emit(Event{Kind: EventError, Err: ErrorRead, Timestamp: time.Now()})
}

// Send writes a line to the device. Dropped when no channel is open.
func (a *Adapter) Send(text string) {
	a.mu.Lock()
	l := a.current
	a.mu.Unlock()
	if l == nil {
		return
	}
	if _, err := l.ch.Write([]byte(text + "\n")); err != nil {
		a.log.Warn().Err(err).Msg("device write failed")
	}
}

func (a *Adapter) teardown(l *link) {
	if l == nil {
		return
	}
	close(l.stop)
	_ = l.ch.Close()
	select {
	case <-l.done:
	case <-time.After(teardownGrace):
		a.log.Warn().Msg("device read loop did not exit within grace period")
	}
}

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
}

// swapState sets s and reports whether the state actually changed.
func (a *Adapter) swapState(s State) bool {
	return a.state.Swap(int32(s)) != int32(s)
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn().Int("kind", int(ev.Kind)).Msg("device event dropped, consumer lagging")
	}
}
