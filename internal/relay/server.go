package relay

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const sessionSendBuffer = 64

// Server is the rendezvous relay. Hosts claim identities, clients dial
// them, and established connections forward data both ways until either
// end closes. One websocket per endpoint; one Server instance per
// process.
type Server struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	hosts    map[string]*session // claimed identity -> host session
	pairs    map[string]*pair    // conn id -> endpoints
	nextAnon atomic.Uint64
	nextConn atomic.Uint64
}

type session struct {
	srv  *Server
	ws   *websocket.Conn
	send chan Message
	name string // registered identity, or assigned anon label

	closeOnce sync.Once
}

type pair struct {
	id   string
	a, b *session
}

// NewServer returns a relay with no claimed identities.
func NewServer(logger zerolog.Logger) *Server {
	return &Server{
		log:   logger,
		hosts: make(map[string]*session),
		pairs: make(map[string]*pair),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves the relay websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("relay upgrade failed")
		return
	}
	sess := &session{
		srv:  s,
		ws:   ws,
		send: make(chan Message, sessionSendBuffer),
		name: fmt.Sprintf("anon-%d", s.nextAnon.Add(1)),
	}
	go sess.writePump()
	sess.readPump()
}

func (c *session) readPump() {
	defer c.teardown()
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		if err := msg.Validate(); err != nil {
			c.deliver(Message{Type: TypeError, Reason: err.Error()})
			continue
		}
		switch msg.Type {
		case TypeRegister:
			c.srv.register(c, msg.Identity)
		case TypeDial:
			c.srv.dial(c, msg.Target)
		case TypeData:
			c.srv.forward(c, msg)
		case TypeClose:
			c.srv.closePair(c, msg.ConnID, "peer closed")
		default:
			c.deliver(Message{Type: TypeError, Reason: "unexpected client message"})
		}
	}
}

func (c *session) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}

// deliver queues a message for the session, dropping it if the session
// cannot keep up. The relay never blocks one endpoint on another.
func (c *session) deliver(msg Message) {
	select {
	case c.send <- msg:
	default:
		c.srv.log.Warn().Str("session", c.name).Str("type", msg.Type).Msg("relay dropped message for slow session")
	}
}

func (c *session) teardown() {
	c.closeOnce.Do(func() {
		c.srv.detach(c)
		close(c.send)
	})
}

func (s *Server) register(c *session, id string) {
	s.mu.Lock()
	existing, taken := s.hosts[id]
	if taken && existing != c {
		s.mu.Unlock()
		s.log.Info().Str("identity", id).Msg("relay identity collision")
		c.deliver(Message{Type: TypeUnavailable, Identity: id})
		return
	}
	s.hosts[id] = c
	c.name = id
	s.mu.Unlock()

	s.log.Info().Str("identity", id).Msg("relay identity claimed")
	c.deliver(Message{Type: TypeRegistered, Identity: id})
}

func (s *Server) dial(c *session, target string) {
	s.mu.Lock()
	host, ok := s.hosts[target]
	if !ok {
		s.mu.Unlock()
		c.deliver(Message{Type: TypeError, Target: target, Reason: "no such identity"})
		return
	}
	id := fmt.Sprintf("c%d", s.nextConn.Add(1))
	s.pairs[id] = &pair{id: id, a: c, b: host}
	s.mu.Unlock()

	s.log.Info().Str("conn", id).Str("from", c.name).Str("to", target).Msg("relay connection open")
	c.deliver(Message{Type: TypeOpen, ConnID: id, Peer: target})
	host.deliver(Message{Type: TypeOpen, ConnID: id, Peer: c.name})
}

func (s *Server) forward(c *session, msg Message) {
	s.mu.Lock()
	p, ok := s.pairs[msg.ConnID]
	s.mu.Unlock()
	if !ok {
		c.deliver(Message{Type: TypeError, ConnID: msg.ConnID, Reason: "unknown connection"})
		return
	}
	other := p.other(c)
	if other == nil {
		c.deliver(Message{Type: TypeError, ConnID: msg.ConnID, Reason: "not a member of connection"})
		return
	}
	other.deliver(Message{Type: TypeData, ConnID: msg.ConnID, Text: msg.Text})
}

func (s *Server) closePair(c *session, connID, reason string) {
	s.mu.Lock()
	p, ok := s.pairs[connID]
	if ok {
		delete(s.pairs, connID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if other := p.other(c); other != nil {
		other.deliver(Message{Type: TypeClose, ConnID: connID, Reason: reason})
	}
}

// detach releases everything owned by a disconnected session: its
// identity claim and every pairing it was part of.
func (s *Server) detach(c *session) {
	s.mu.Lock()
	if owner, ok := s.hosts[c.name]; ok && owner == c {
		delete(s.hosts, c.name)
	}
	var orphaned []*pair
	for id, p := range s.pairs {
		if p.a == c || p.b == c {
			delete(s.pairs, id)
			orphaned = append(orphaned, p)
		}
	}
	s.mu.Unlock()

	for _, p := range orphaned {
		if other := p.other(c); other != nil {
			other.deliver(Message{Type: TypeClose, ConnID: p.id, Reason: "peer disconnected"})
		}
	}
	s.log.Debug().Str("session", c.name).Msg("relay session detached")
}

func (p *pair) other(c *session) *session {
	switch c {
	case p.a:
		return p.b
	case p.b:
		return p.a
	default:
		return nil
	}
}
