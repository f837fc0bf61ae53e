package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/router"
)

// frame is one websocket envelope pushed to event consumers.
type frame struct {
	Type    string          `json:"type"` // "message" or "alarm"
	Message *router.Message `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan frame
}

// hub fans stream frames out to every connected websocket consumer.
// Slow consumers are dropped rather than allowed to block the stream.
type hub struct {
	clients    map[*wsClient]bool
	events     chan frame
	register   chan *wsClient
	unregister chan *wsClient
	log        zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		events:     make(chan frame, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        logger,
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case f := <-h.events:
			for c := range h.clients {
				select {
				case c.send <- f:
				default:
					close(c.send)
					delete(h.clients, c)
					h.log.Warn().Msg("dropped slow event consumer")
				}
			}
		}
	}
}

func (h *hub) broadcast(f frame) {
	select {
	case h.events <- f:
	default:
		h.log.Warn().Str("type", f.Type).Msg("event frame dropped, hub congested")
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("event stream upgrade failed")
		return
	}
	client := &wsClient{conn: conn, send: make(chan frame, 16)}
	s.hub.register <- client

	go func() {
		defer conn.Close()
		for f := range client.send {
			if err := conn.WriteJSON(f); err != nil {
				break
			}
		}
	}()

	// Consumers never send; the read loop only detects departure.
	go func() {
		defer func() { s.hub.unregister <- client }()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
