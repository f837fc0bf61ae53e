package peer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/relay"
)

const wsDialTimeout = 5 * time.Second

// WSEndpoint is the production Endpoint: one websocket to the
// rendezvous relay, translated into EndpointEvents.
type WSEndpoint struct {
	url string
	log zerolog.Logger

	mu         sync.Mutex
	ws         *websocket.Conn
	connecting bool
	closed     bool

	events    chan EndpointEvent
	done      chan struct{}
	closeOnce sync.Once
}

var _ Endpoint = (*WSEndpoint)(nil)

// NewWSEndpoint starts connecting to the relay at url (ws://host/ws)
// and returns immediately. EndpointReady or EndpointLost reports the
// outcome.
func NewWSEndpoint(url string, logger zerolog.Logger) *WSEndpoint {
	e := &WSEndpoint{
		url:    url,
		log:    logger,
		events: make(chan EndpointEvent, 32),
		done:   make(chan struct{}),
	}
	e.connecting = true
	go e.connect()
	return e
}

func (e *WSEndpoint) connect() {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	ws, _, err := dialer.Dial(e.url, nil)

	e.mu.Lock()
	e.connecting = false
	if e.closed {
		e.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Str("relay", e.url).Msg("relay dial failed")
		e.emit(EndpointEvent{Kind: EndpointLost, Reason: err.Error()})
		return
	}
	e.ws = ws
	e.mu.Unlock()

	go e.readLoop(ws)
	e.emit(EndpointEvent{Kind: EndpointReady})
}

func (e *WSEndpoint) readLoop(ws *websocket.Conn) {
	for {
		var msg relay.Message
		if err := ws.ReadJSON(&msg); err != nil {
			e.mu.Lock()
			stale := e.ws != ws
			closed := e.closed
			if !stale {
				e.ws = nil
			}
			e.mu.Unlock()
			ws.Close()
			if !stale && !closed {
				e.emit(EndpointEvent{Kind: EndpointLost, Reason: err.Error()})
			}
			return
		}
		switch msg.Type {
		case relay.TypeRegistered:
			e.emit(EndpointEvent{Kind: EndpointRegistered, Peer: msg.Identity})
		case relay.TypeUnavailable:
			e.emit(EndpointEvent{Kind: EndpointUnavailable, Peer: msg.Identity})
		case relay.TypeOpen:
			e.emit(EndpointEvent{Kind: EndpointConnOpen, ConnID: msg.ConnID, Peer: msg.Peer})
		case relay.TypeData:
			e.emit(EndpointEvent{Kind: EndpointConnData, ConnID: msg.ConnID, Text: msg.Text})
		case relay.TypeClose:
			e.emit(EndpointEvent{Kind: EndpointConnClose, ConnID: msg.ConnID, Reason: msg.Reason})
		case relay.TypeError:
			e.emit(EndpointEvent{Kind: EndpointError, ConnID: msg.ConnID, Reason: msg.Reason})
		default:
			e.log.Debug().Str("type", msg.Type).Msg("ignoring unknown relay message")
		}
	}
}

// Register claims a host identity with the relay.
func (e *WSEndpoint) Register(identity string) {
	e.write(relay.Message{Type: relay.TypeRegister, Identity: identity})
}

// Dial requests an outbound connection to a host identity.
func (e *WSEndpoint) Dial(target string) {
	e.write(relay.Message{Type: relay.TypeDial, Target: target})
}

// SendData forwards text on an established connection.
func (e *WSEndpoint) SendData(connID, text string) {
	e.write(relay.Message{Type: relay.TypeData, ConnID: connID, Text: text})
}

// CloseConn tears down one established connection.
func (e *WSEndpoint) CloseConn(connID string) {
	e.write(relay.Message{Type: relay.TypeClose, ConnID: connID})
}

// Disconnected reports whether the relay link is down but the endpoint
// is still usable via Reconnect.
func (e *WSEndpoint) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ws == nil && !e.connecting && !e.closed
}

// Reconnect re-dials the relay after a transient loss. Attempts in
// flight are not duplicated.
func (e *WSEndpoint) Reconnect() {
	e.mu.Lock()
	if e.ws != nil || e.connecting || e.closed {
		e.mu.Unlock()
		return
	}
	e.connecting = true
	e.mu.Unlock()
	go e.connect()
}

// Events delivers endpoint events until Close.
func (e *WSEndpoint) Events() <-chan EndpointEvent {
	return e.events
}

// Close destroys the endpoint. Idempotent.
func (e *WSEndpoint) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		ws := e.ws
		e.ws = nil
		e.mu.Unlock()
		close(e.done)
		if ws != nil {
			ws.Close()
		}
	})
}

func (e *WSEndpoint) write(msg relay.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ws == nil {
		e.log.Debug().Str("type", msg.Type).Msg("dropping relay message, link down")
		return
	}
	if err := e.ws.WriteJSON(msg); err != nil {
		e.log.Warn().Err(err).Str("type", msg.Type).Msg("relay write failed")
	}
}

func (e *WSEndpoint) emit(ev EndpointEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}
