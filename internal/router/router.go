// Package router merges device and peer events into one ordered,
// deduplicated stream of unified messages, and routes outbound
// user-composed text to the active peer session.
package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/signlink/internal/device"
	"github.com/danmuck/signlink/internal/observability"
	"github.com/danmuck/signlink/internal/peer"
)

// EmergencySentinel is the reserved device text denoting an
// emergency trigger. It is never suppressed by dedup, must never be
// spoken by a text-to-speech consumer, and fans out on the alarm
// channel in addition to the normal stream.
const EmergencySentinel = "!EMERGENCY!"

// HistoryCapacity bounds the in-memory message ring, newest first.
const HistoryCapacity = 30

// Origin says where a unified message came from.
type Origin int

const (
	// OriginDevice: sign text produced by the device, local or remote.
	OriginDevice Origin = iota
	// OriginUser: locally composed text (voice input).
	OriginUser
)

func (o Origin) String() string {
	if o == OriginUser {
		return "user"
	}
	return "device"
}

// Message is one immutable entry in the unified stream.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`
	Emergency bool      `json:"emergency,omitempty"`
}

// PeerSender is the outbound half of the peer session the router needs.
type PeerSender interface {
	Send(text string)
}

// Config tunes router behavior.
type Config struct {
	// AllowDuplicates disables suppression of immediately repeated
	// device text.
	AllowDuplicates bool
	// EventBuffer sizes the unified stream channel.
	EventBuffer int
}

// Router applies the dedup policy and owns the message history. All
// ingestion happens on one dispatch goroutine; history is guarded for
// concurrent readers.
type Router struct {
	cfg    Config
	peers  PeerSender
	log    zerolog.Logger
	msgs   chan Message
	alarms chan Message
	done   chan struct{}

	closeOnce sync.Once

	mu         sync.Mutex
	history    []Message
	lastDevice string // DedupState: last accepted device-origin text
	dedupValid bool
	lastError  string
}

// New returns a router that is not yet consuming any transport.
func New(cfg Config, peers PeerSender, logger zerolog.Logger) *Router {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Router{
		cfg:    cfg,
		peers:  peers,
		log:    logger,
		msgs:   make(chan Message, cfg.EventBuffer),
		alarms: make(chan Message, 8),
		done:   make(chan struct{}),
	}
}

// Start consumes both transports until Close. Either channel may be
// nil when that transport is absent.
func (r *Router) Start(devEvents <-chan device.Event, peerEvents <-chan peer.Event) {
	go r.dispatch(devEvents, peerEvents)
}

// Events is the unified message stream.
func (r *Router) Events() <-chan Message {
	return r.msgs
}

// Alarms delivers emergency-flagged messages only.
func (r *Router) Alarms() <-chan Message {
	return r.alarms
}

// Send routes user-composed text to the peer session and records it in
// the stream. Delivery is fire-and-forget; when no peer connection is
// open the remote send is silently lost.
func (r *Router) Send(text string) {
	if text == "" {
		return
	}
	if r.peers != nil {
		r.peers.Send(text)
	}
	r.Ingest(text, OriginUser)
}

// Ingest applies the dedup policy to one observed text and, if
// accepted, emits a new unified message.
func (r *Router) Ingest(text string, origin Origin) {
	if text == EmergencySentinel {
		r.ingestEmergency()
		return
	}

	r.mu.Lock()
	if origin == OriginDevice && !r.cfg.AllowDuplicates && r.dedupValid && text == r.lastDevice {
		r.mu.Unlock()
		observability.RecordMessageDeduped()
		return
	}
	msg := r.newMessage(text, origin, false)
	if origin == OriginDevice {
		r.lastDevice = text
		r.dedupValid = true
	}
	r.prependLocked(msg)
	r.mu.Unlock()

	r.emit(r.msgs, msg)
}

// History returns a copy of the ring, newest first.
func (r *Router) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

// ClearHistory empties the ring and resets the dedup state, so the
// next device line is always accepted regardless of its value.
func (r *Router) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.lastDevice = ""
	r.dedupValid = false
	r.mu.Unlock()
}

// LastDeviceError reports the most recent surfaced device error, or ""
// when the device has since reconnected.
func (r *Router) LastDeviceError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Close stops dispatch. The message channels are closed afterwards.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

func (r *Router) dispatch(devEvents <-chan device.Event, peerEvents <-chan peer.Event) {
	defer close(r.msgs)
	defer close(r.alarms)
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-devEvents:
			if !ok {
				devEvents = nil
				continue
			}
			r.handleDevice(ev)
		case ev, ok := <-peerEvents:
			if !ok {
				peerEvents = nil
				continue
			}
			r.handlePeer(ev)
		}
	}
}

func (r *Router) handleDevice(ev device.Event) {
	switch ev.Kind {
	case device.EventLine:
		r.Ingest(ev.Line, OriginDevice)
	case device.EventState:
		if ev.State == device.StateConnected {
			r.mu.Lock()
			r.lastError = ""
			r.mu.Unlock()
		}
	case device.EventError:
		msg := "device error"
		if ev.Err == device.ErrorDeviceLost {
			msg = "device disconnected"
		}
		r.mu.Lock()
		r.lastError = msg
		r.mu.Unlock()
	}
}

func (r *Router) handlePeer(ev peer.Event) {
	switch ev.Kind {
	case peer.EventData:
		// Remote sign text is device-origin for dedup purposes.
		r.Ingest(ev.Text, OriginDevice)
	case peer.EventStatus:
		r.log.Debug().Str("status", ev.Status.String()).Str("peer", ev.Peer).Msg("peer status changed")
	}
}

// ingestEmergency bypasses dedup entirely: the sentinel is always
// accepted, flagged in history, and fanned out on the alarm channel.
// It does not touch the dedup state.
func (r *Router) ingestEmergency() {
	r.mu.Lock()
	msg := r.newMessage(EmergencySentinel, OriginDevice, true)
	r.prependLocked(msg)
	r.mu.Unlock()

	observability.RecordEmergency()
	r.log.Warn().Msg("emergency sentinel received")
	r.emit(r.msgs, msg)
	r.emit(r.alarms, msg)
}

func (r *Router) newMessage(text string, origin Origin, emergency bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now(),
		Origin:    origin,
		Emergency: emergency,
	}
}

func (r *Router) prependLocked(msg Message) {
	r.history = append([]Message{msg}, r.history...)
	if len(r.history) > HistoryCapacity {
		r.history = r.history[:HistoryCapacity]
	}
}

func (r *Router) emit(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
		r.log.Warn().Str("id", msg.ID).Msg("unified message dropped, consumer lagging")
	}
}
