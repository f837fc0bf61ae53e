package router

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/signlink/internal/device"
	"github.com/danmuck/signlink/internal/observability"
	"github.com/danmuck/signlink/internal/peer"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
}

func newTestRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	r := New(cfg, &fakeSender{}, observability.InitTestLogger())
	t.Cleanup(r.Close)
	return r
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestDedupSuppressesImmediateRepeat(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginDevice)
	r.Ingest("Hello", OriginDevice)

	if h := r.History(); len(h) != 1 {
		t.Fatalf("expected 1 message, got %v", texts(h))
	}
}

func TestDedupAcceptsAlternatingRepeats(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginDevice)
	r.Ingest("World", OriginDevice)
	r.Ingest("Hello", OriginDevice)

	h := r.History()
	if len(h) != 3 {
		t.Fatalf("expected 3 messages, got %v", texts(h))
	}
	// Newest first.
	if h[0].Text != "Hello" || h[1].Text != "World" || h[2].Text != "Hello" {
		t.Fatalf("history order: %v", texts(h))
	}
}

func TestDedupDisabledKeepsRepeats(t *testing.T) {
	r := newTestRouter(t, Config{AllowDuplicates: true})
	r.Ingest("Hello", OriginDevice)
	r.Ingest("Hello", OriginDevice)

	if h := r.History(); len(h) != 2 {
		t.Fatalf("expected 2 messages, got %v", texts(h))
	}
}

func TestDedupNeverAppliesToUserText(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginUser)
	r.Ingest("Hello", OriginUser)

	if h := r.History(); len(h) != 2 {
		t.Fatalf("user text deduped: %v", texts(h))
	}
}

func TestUserTextDoesNotPoisonDeviceDedup(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginDevice)
	r.Ingest("Hello", OriginUser)
	r.Ingest("Hello", OriginDevice) // still an immediate device repeat

	if h := r.History(); len(h) != 2 {
		t.Fatalf("expected 2 messages, got %v", texts(h))
	}
}

func TestEmergencySentinelNeverSuppressed(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest(EmergencySentinel, OriginDevice)
	r.Ingest(EmergencySentinel, OriginDevice)

	h := r.History()
	if len(h) != 2 {
		t.Fatalf("sentinel was suppressed: %v", texts(h))
	}
	for _, m := range h {
		if !m.Emergency {
			t.Fatalf("sentinel entry not flagged: %+v", m)
		}
	}
}

func TestEmergencySentinelFansOutOnAlarmChannel(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest(EmergencySentinel, OriginDevice)

	select {
	case msg := <-r.Alarms():
		if !msg.Emergency || msg.Text != EmergencySentinel {
			t.Fatalf("alarm payload: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("no alarm emitted")
	}
}

func TestEmergencyDoesNotTouchDedupState(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginDevice)
	r.Ingest(EmergencySentinel, OriginDevice)
	r.Ingest("Hello", OriginDevice) // still an immediate repeat of the last accepted line

	h := r.History()
	if len(h) != 2 {
		t.Fatalf("expected 2 messages, got %v", texts(h))
	}
}

func TestClearHistoryResetsDedup(t *testing.T) {
	r := newTestRouter(t, Config{})
	r.Ingest("Hello", OriginDevice)
	r.ClearHistory()

	if h := r.History(); len(h) != 0 {
		t.Fatalf("history not cleared: %v", texts(h))
	}
	r.Ingest("Hello", OriginDevice)
	if h := r.History(); len(h) != 1 {
		t.Fatalf("line after clear rejected: %v", texts(h))
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	r := newTestRouter(t, Config{})
	for i := 0; i < HistoryCapacity+10; i++ {
		r.Ingest(string(rune('A'+i%26))+"-line", OriginUser)
	}
	h := r.History()
	if len(h) != HistoryCapacity {
		t.Fatalf("history length %d", len(h))
	}
}

func TestSendForwardsToPeerAndRecords(t *testing.T) {
	sender := &fakeSender{}
	r := New(Config{}, sender, observability.InitTestLogger())
	defer r.Close()

	r.Send("typed text")
	sender.mu.Lock()
	sent := append([]string(nil), sender.sent...)
	sender.mu.Unlock()
	if len(sent) != 1 || sent[0] != "typed text" {
		t.Fatalf("sent: %v", sent)
	}
	h := r.History()
	if len(h) != 1 || h[0].Origin != OriginUser {
		t.Fatalf("history: %+v", h)
	}
}

func TestDispatchMergesTransports(t *testing.T) {
	r := newTestRouter(t, Config{})
	devEvents := make(chan device.Event, 8)
	peerEvents := make(chan peer.Event, 8)
	r.Start(devEvents, peerEvents)

	devEvents <- device.Event{Kind: device.EventLine, Line: "from device", Timestamp: time.Now()}
	peerEvents <- peer.Event{Kind: peer.EventData, Text: "from peer"}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case msg := <-r.Events():
			seen[msg.Text] = true
		case <-time.After(time.Second):
			t.Fatalf("unified stream incomplete, saw %v", seen)
		}
	}
}

func TestIngestInterleavedTransports(t *testing.T) {
	// Arrival order between transports is unspecified; dedup compares
	// against whatever text was applied last. Both transports are
	// device-origin, so the interleave below collapses the repeat.
	r := newTestRouter(t, Config{})
	r.Ingest("same", OriginDevice) // device channel
	r.Ingest("same", OriginDevice) // peer session, applied second
	if h := r.History(); len(h) != 1 {
		t.Fatalf("expected last-applied-wins collapse, got %v", texts(h))
	}
}

func TestDeviceErrorTracking(t *testing.T) {
	r := newTestRouter(t, Config{})
	devEvents := make(chan device.Event, 8)
	r.Start(devEvents, nil)

	devEvents <- device.Event{Kind: device.EventError, Err: device.ErrorDeviceLost}
	waitUntil(t, func() bool { return r.LastDeviceError() == "device disconnected" })

	devEvents <- device.Event{Kind: device.EventState, State: device.StateConnected}
	waitUntil(t, func() bool { return r.LastDeviceError() == "" })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never satisfied")
}
