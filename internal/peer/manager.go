package peer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/identity"
	"github.com/danmuck/signlink/internal/observability"
)

// Status is the session-level connection state.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventKind tags manager events.
type EventKind int

const (
	// EventData: text arrived from the connected peer.
	EventData EventKind = iota
	// EventStatus: session status changed.
	EventStatus
)

// Event is one observation from the peer session, consumed by the
// transport router.
type Event struct {
	Kind   EventKind
	Text   string
	Status Status
	Peer   string // remote identity, prefix stripped
}

// Config tunes the manager's recovery behavior.
type Config struct {
	// CollisionBackoff is how long a host waits before re-claiming its
	// identity after a collision. The identity itself never changes.
	CollisionBackoff time.Duration
	// RepairInterval paces the client-side connection repair loop.
	RepairInterval time.Duration
	// ReconnectDelay paces host-side signaling reconnect attempts.
	ReconnectDelay time.Duration
	// EventBuffer sizes the outbound event channel.
	EventBuffer int
}

// DefaultConfig returns the contract defaults.
func DefaultConfig() Config {
	return Config{
		CollisionBackoff: 1500 * time.Millisecond,
		RepairInterval:   2 * time.Second,
		ReconnectDelay:   2 * time.Second,
		EventBuffer:      64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CollisionBackoff <= 0 {
		c.CollisionBackoff = d.CollisionBackoff
	}
	if c.RepairInterval <= 0 {
		c.RepairInterval = d.RepairInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// EndpointFactory creates a fresh signaling endpoint. The manager calls
// it lazily on first use and again if a destroyed endpoint must be
// replaced.
type EndpointFactory func() (Endpoint, error)

type role int

const (
	roleNone role = iota
	roleHost
	roleClient
)

// Manager owns one logical peer session. All session state lives in a
// single dispatch goroutine; public methods post commands to it.
type Manager struct {
	cfg     Config
	factory EndpointFactory
	log     zerolog.Logger

	cmds   chan func(*sessionState)
	events chan Event
	done   chan struct{}

	closeOnce sync.Once

	status atomic.Int32
	hostID atomic.Value // string
	peerID atomic.Value // string
}

// sessionState is owned exclusively by the run goroutine.
type sessionState struct {
	role         role
	hostIdentity string // un-namespaced, persisted by the caller
	retryTarget  string // client connection intent; "" means none

	ep      Endpoint
	epReady bool

	connID   string
	connPeer string
}

// NewManager returns a manager with no role. The role is decided by the
// first StartHosting or ConnectTo call.
func NewManager(cfg Config, factory EndpointFactory, logger zerolog.Logger) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		factory: factory,
		log:     logger,
		cmds:    make(chan func(*sessionState), 16),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
	}
	m.hostID.Store("")
	m.peerID.Store("")
	go m.run()
	return m
}

// Events delivers data and status events until Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status reports the current session status.
func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// CurrentIdentity returns the identity this host is published under, or
// "" when not hosting.
func (m *Manager) CurrentIdentity() string {
	return m.hostID.Load().(string)
}

// CurrentPeer returns the connected remote identity, prefix stripped,
// or "" when no connection is open.
func (m *Manager) CurrentPeer() string {
	return m.peerID.Load().(string)
}

// StartHosting publishes the given persisted identity and accepts
// inbound connections. A new inbound connection replaces any open one.
func (m *Manager) StartHosting(id string) {
	m.post(func(st *sessionState) {
		st.role = roleHost
		st.hostIdentity = id
		m.hostID.Store(id)
		if m.ensureEndpoint(st) && st.epReady {
			st.ep.Register(identity.Namespaced(id))
		}
	})
}

// ConnectTo remembers the target identity and keeps trying to reach it
// until Disconnect. The target's presence, not the transport's
// liveness, is what drives the repair loop.
func (m *Manager) ConnectTo(target string) {
	m.post(func(st *sessionState) {
		st.role = roleClient
		st.retryTarget = target
		m.setStatus(StatusConnecting)
		if m.ensureEndpoint(st) && st.epReady {
			st.ep.Dial(identity.Namespaced(target))
		}
	})
}

// Send forwards text to the connected peer. A silent no-op when no
// connection is open; sends are fire-and-forget.
func (m *Manager) Send(text string) {
	m.post(func(st *sessionState) {
		if st.connID == "" {
			return
		}
		st.ep.SendData(st.connID, text)
	})
}

// Disconnect drops the connection intent and closes any open
// connection. Idempotent and safe from any state.
func (m *Manager) Disconnect() {
	m.post(func(st *sessionState) {
		st.retryTarget = ""
		if st.connID != "" && st.ep != nil {
			st.ep.CloseConn(st.connID)
		}
		m.dropConn(st)
		m.setStatus(StatusDisconnected)
	})
}

// Close shuts the manager down for good. No events are emitted after
// Close returns.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

func (m *Manager) post(fn func(*sessionState)) {
	select {
	case m.cmds <- fn:
	case <-m.done:
	}
}

func (m *Manager) run() {
	st := &sessionState{}
	ticker := time.NewTicker(m.cfg.RepairInterval)
	defer ticker.Stop()
	defer func() {
		if st.ep != nil {
			st.ep.Close()
		}
		close(m.events)
	}()

	for {
		var epEvents <-chan EndpointEvent
		if st.ep != nil {
			epEvents = st.ep.Events()
		}
		select {
		case <-m.done:
			return
		case fn := <-m.cmds:
			fn(st)
		case ev, ok := <-epEvents:
			if !ok {
				st.ep = nil
				st.epReady = false
				m.dropConn(st)
				continue
			}
			m.handleEndpointEvent(st, ev)
		case <-ticker.C:
			m.repair(st)
		}
	}
}

func (m *Manager) handleEndpointEvent(st *sessionState, ev EndpointEvent) {
	switch ev.Kind {
	case EndpointReady:
		st.epReady = true
		switch st.role {
		case roleHost:
			st.ep.Register(identity.Namespaced(st.hostIdentity))
		case roleClient:
			if st.retryTarget != "" && st.connID == "" {
				st.ep.Dial(identity.Namespaced(st.retryTarget))
			}
		}

	case EndpointRegistered:
		m.log.Info().Str("identity", st.hostIdentity).Msg("hosting under published identity")

	case EndpointUnavailable:
		// Identity collision. Retry the same identity after a fixed
		// backoff; a stable identity matters more than fast recovery.
		m.log.Warn().Str("identity", st.hostIdentity).Dur("backoff", m.cfg.CollisionBackoff).Msg("identity collision, retrying")
		observability.RecordPeerCollision()
		id := st.hostIdentity
		time.AfterFunc(m.cfg.CollisionBackoff, func() {
			m.post(func(st *sessionState) {
				if st.role == roleHost && st.hostIdentity == id && st.ep != nil && st.epReady {
					st.ep.Register(identity.Namespaced(id))
				}
			})
		})

	case EndpointConnOpen:
		if st.role == roleHost && st.connID != "" && st.connID != ev.ConnID {
			// Last writer wins: close the previous connection before
			// accepting the replacement.
			st.ep.CloseConn(st.connID)
		}
		st.connID = ev.ConnID
		st.connPeer = identity.Stripped(ev.Peer)
		m.peerID.Store(st.connPeer)
		m.setStatus(StatusConnected)
		m.emit(Event{Kind: EventStatus, Status: StatusConnected, Peer: st.connPeer})
		m.log.Info().Str("peer", st.connPeer).Str("conn", ev.ConnID).Msg("peer connection open")

	case EndpointConnData:
		// A late event from a since-replaced connection is discarded by
		// identity, never assumed impossible.
		if ev.ConnID != st.connID {
			return
		}
		if ev.Text == "" {
			m.log.Debug().Str("conn", ev.ConnID).Msg("dropping peer payload without text")
			return
		}
		m.emit(Event{Kind: EventData, Text: ev.Text, Peer: st.connPeer})

	case EndpointConnClose, EndpointError:
		if ev.ConnID != "" && ev.ConnID != st.connID {
			return
		}
		if ev.Kind == EndpointError {
			m.log.Warn().Str("conn", ev.ConnID).Str("reason", ev.Reason).Msg("peer connection error")
			observability.RecordPeerConnError()
		}
		if st.connID != "" {
			m.dropConn(st)
			m.setStatus(StatusDisconnected)
			m.emit(Event{Kind: EventStatus, Status: StatusDisconnected})
		}

	case EndpointLost:
		st.epReady = false
		if st.connID != "" {
			m.dropConn(st)
			m.setStatus(StatusDisconnected)
			m.emit(Event{Kind: EventStatus, Status: StatusDisconnected})
		}
		m.log.Warn().Msg("signaling link lost")
		if st.role == roleHost {
			// Client recovery belongs to the repair loop; a host has no
			// retry context, so pace its own reconnect here.
			ep := st.ep
			time.AfterFunc(m.cfg.ReconnectDelay, func() {
				m.post(func(st *sessionState) {
					if st.ep == ep && st.ep != nil && st.ep.Disconnected() {
						st.ep.Reconnect()
					}
				})
			})
		}
	}
}

// repair runs every RepairInterval but acts only while a client-side
// connection intent exists. It is the sole recovery path for transient
// signaling loss and failed or timed-out connection attempts.
func (m *Manager) repair(st *sessionState) {
	if st.role != roleClient || st.retryTarget == "" {
		return
	}
	if st.connID != "" {
		return
	}
	observability.RecordPeerRepairTick()
	switch {
	case st.ep != nil && st.ep.Disconnected():
		st.ep.Reconnect()
	case st.ep == nil:
		m.ensureEndpoint(st)
	case st.epReady:
		st.ep.Dial(identity.Namespaced(st.retryTarget))
	}
}

// ensureEndpoint creates the signaling endpoint if none exists. Safe to
// call repeatedly; an existing endpoint is never duplicated.
func (m *Manager) ensureEndpoint(st *sessionState) bool {
	if st.ep != nil {
		return true
	}
	ep, err := m.factory()
	if err != nil {
		m.log.Warn().Err(err).Msg("signaling endpoint creation failed")
		return false
	}
	st.ep = ep
	st.epReady = false
	return true
}

func (m *Manager) dropConn(st *sessionState) {
	st.connID = ""
	st.connPeer = ""
	m.peerID.Store("")
}

func (m *Manager) setStatus(s Status) {
	m.status.Store(int32(s))
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn().Int("kind", int(ev.Kind)).Msg("peer event dropped, consumer lagging")
	}
}
