// Package server exposes the local HTTP surface consumed by display
// and speech frontends: message history, sending, device control, and
// a websocket feed of unified messages and alarms.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/device"
	"github.com/danmuck/signlink/internal/observability"
	"github.com/danmuck/signlink/internal/peer"
	"github.com/danmuck/signlink/internal/router"
)

// DeviceControl is the adapter surface the API needs. Nil when no
// device transport is configured.
type DeviceControl interface {
	Connect() error
	Disconnect()
	State() device.State
}

// PeerControl is the session manager surface the API needs. Nil when
// no peer transport is configured.
type PeerControl interface {
	Status() peer.Status
	CurrentIdentity() string
	CurrentPeer() string
}

// Server is the local API node.
type Server struct {
	name    string
	started time.Time

	link   *router.Router
	dev    DeviceControl
	peers  PeerControl
	hub    *hub
	engine *gin.Engine
	log    zerolog.Logger
}

// New wires the API around the router and optional transports.
func New(name string, link *router.Router, dev DeviceControl, peers PeerControl, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:    name,
		started: time.Now(),
		link:    link,
		dev:     dev,
		peers:   peers,
		hub:     newHub(logger),
		engine:  r,
		log:     logger,
	}
	s.registerRoutes()
	return s
}

// Start begins broadcasting stream events to websocket consumers and
// serves the API on addr. Blocks like gin's Run.
func (s *Server) Start(addr string) error {
	go s.hub.run()
	go s.pump()
	return s.engine.Run(addr)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// StartHub runs only the event fan-out, for tests that drive the
// handler directly.
func (s *Server) StartHub() {
	go s.hub.run()
	go s.pump()
}

// pump forwards unified messages and alarms to websocket consumers.
// The emergency sentinel goes out as a distinct alarm frame, so speech
// consumers can exclude it without parsing message text.
func (s *Server) pump() {
	msgs := s.link.Events()
	alarms := s.link.Alarms()
	for msgs != nil || alarms != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.hub.broadcast(frame{Type: "message", Message: &msg})
		case msg, ok := <-alarms:
			if !ok {
				alarms = nil
				continue
			}
			s.hub.broadcast(frame{Type: "alarm", Message: &msg})
		}
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.name,
			"version": "0.1.0",
		})
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/status", func(c *gin.Context) {
		out := gin.H{
			"device":     s.deviceState().String(),
			"peer":       s.peerStatus().String(),
			"last_error": s.link.LastDeviceError(),
		}
		if s.peers != nil {
			out["host_identity"] = s.peers.CurrentIdentity()
			out["connected_peer"] = s.peers.CurrentPeer()
		}
		c.JSON(http.StatusOK, out)
	})

	s.engine.GET("/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"messages": s.link.History()})
	})

	s.engine.POST("/history/clear", func(c *gin.Context) {
		s.link.ClearHistory()
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	})

	s.engine.POST("/send", func(c *gin.Context) {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
			return
		}
		s.link.Send(req.Text)
		c.JSON(http.StatusOK, gin.H{"sent": true})
	})

	s.engine.POST("/device/connect", func(c *gin.Context) {
		if s.dev == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device transport not configured"})
			return
		}
		if err := s.dev.Connect(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": s.dev.State().String()})
	})

	s.engine.POST("/device/disconnect", func(c *gin.Context) {
		if s.dev == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "device transport not configured"})
			return
		}
		s.dev.Disconnect()
		c.JSON(http.StatusOK, gin.H{"state": s.dev.State().String()})
	})

	s.engine.GET("/events", s.handleEvents)
}

func (s *Server) deviceState() device.State {
	if s.dev == nil {
		return device.StateDisconnected
	}
	return s.dev.State()
}

func (s *Server) peerStatus() peer.Status {
	if s.peers == nil {
		return peer.StatusIdle
	}
	return s.peers.Status()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
