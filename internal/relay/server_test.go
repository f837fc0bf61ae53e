package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/signlink/internal/observability"
)

func startRelay(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(observability.InitTestLogger()).Handler())
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http", "ws", 1) + "/ws"
}

func dialRelay(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg Message) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func recv(t *testing.T, ws *websocket.Conn, wantType string) Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read (want %s): %v", wantType, err)
	}
	if msg.Type != wantType {
		t.Fatalf("got %+v, want type %s", msg, wantType)
	}
	return msg
}

func TestRegisterClaimsIdentity(t *testing.T) {
	url := startRelay(t)
	host := dialRelay(t, url)

	send(t, host, Message{Type: TypeRegister, Identity: "signlink-0001"})
	if msg := recv(t, host, TypeRegistered); msg.Identity != "signlink-0001" {
		t.Fatalf("registered identity %q", msg.Identity)
	}
}

func TestRegisterCollisionRejectsSecondClaim(t *testing.T) {
	url := startRelay(t)
	first := dialRelay(t, url)
	second := dialRelay(t, url)

	send(t, first, Message{Type: TypeRegister, Identity: "signlink-7777"})
	recv(t, first, TypeRegistered)

	send(t, second, Message{Type: TypeRegister, Identity: "signlink-7777"})
	if msg := recv(t, second, TypeUnavailable); msg.Identity != "signlink-7777" {
		t.Fatalf("unavailable identity %q", msg.Identity)
	}
}

func TestIdentityReleasedOnDisconnect(t *testing.T) {
	url := startRelay(t)
	first := dialRelay(t, url)

	send(t, first, Message{Type: TypeRegister, Identity: "signlink-0042"})
	recv(t, first, TypeRegistered)
	first.Close()

	// Claim release is asynchronous with the socket close.
	deadline := time.Now().Add(2 * time.Second)
	for {
		second := dialRelay(t, url)
		send(t, second, Message{Type: TypeRegister, Identity: "signlink-0042"})
		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := second.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		second.Close()
		if msg.Type == TypeRegistered {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("identity never released, last reply %+v", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialUnknownTargetFails(t *testing.T) {
	url := startRelay(t)
	client := dialRelay(t, url)

	send(t, client, Message{Type: TypeDial, Target: "signlink-9999"})
	if msg := recv(t, client, TypeError); msg.Target != "signlink-9999" {
		t.Fatalf("error target %q", msg.Target)
	}
}

func TestDialForwardsDataBothWays(t *testing.T) {
	url := startRelay(t)
	host := dialRelay(t, url)
	client := dialRelay(t, url)

	send(t, host, Message{Type: TypeRegister, Identity: "signlink-1234"})
	recv(t, host, TypeRegistered)

	send(t, client, Message{Type: TypeDial, Target: "signlink-1234"})
	clientOpen := recv(t, client, TypeOpen)
	hostOpen := recv(t, host, TypeOpen)
	if clientOpen.ConnID == "" || clientOpen.ConnID != hostOpen.ConnID {
		t.Fatalf("conn ids disagree: %q vs %q", clientOpen.ConnID, hostOpen.ConnID)
	}
	if clientOpen.Peer != "signlink-1234" {
		t.Fatalf("client peer %q", clientOpen.Peer)
	}

	send(t, client, Message{Type: TypeData, ConnID: clientOpen.ConnID, Text: "hello host"})
	if msg := recv(t, host, TypeData); msg.Text != "hello host" {
		t.Fatalf("host payload %q", msg.Text)
	}
	send(t, host, Message{Type: TypeData, ConnID: hostOpen.ConnID, Text: "hello client"})
	if msg := recv(t, client, TypeData); msg.Text != "hello client" {
		t.Fatalf("client payload %q", msg.Text)
	}
}

func TestCloseNotifiesOtherEndpoint(t *testing.T) {
	url := startRelay(t)
	host := dialRelay(t, url)
	client := dialRelay(t, url)

	send(t, host, Message{Type: TypeRegister, Identity: "signlink-2222"})
	recv(t, host, TypeRegistered)
	send(t, client, Message{Type: TypeDial, Target: "signlink-2222"})
	open := recv(t, client, TypeOpen)
	recv(t, host, TypeOpen)

	send(t, client, Message{Type: TypeClose, ConnID: open.ConnID})
	if msg := recv(t, host, TypeClose); msg.ConnID != open.ConnID {
		t.Fatalf("close conn %q, want %q", msg.ConnID, open.ConnID)
	}
}

func TestDisconnectClosesEstablishedPairs(t *testing.T) {
	url := startRelay(t)
	host := dialRelay(t, url)
	client := dialRelay(t, url)

	send(t, host, Message{Type: TypeRegister, Identity: "signlink-3333"})
	recv(t, host, TypeRegistered)
	send(t, client, Message{Type: TypeDial, Target: "signlink-3333"})
	open := recv(t, client, TypeOpen)
	recv(t, host, TypeOpen)

	host.Close()
	if msg := recv(t, client, TypeClose); msg.ConnID != open.ConnID {
		t.Fatalf("close conn %q, want %q", msg.ConnID, open.ConnID)
	}
}

func TestMalformedMessageGetsErrorReply(t *testing.T) {
	url := startRelay(t)
	client := dialRelay(t, url)

	send(t, client, Message{Type: TypeRegister}) // identity missing
	msg := recv(t, client, TypeError)
	if msg.Reason == "" {
		t.Fatalf("error without reason: %+v", msg)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	if err := (Message{Type: "bogus"}).Validate(); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if err := (Message{Type: TypeData, ConnID: "c1", Text: "x"}).Validate(); err != nil {
		t.Fatalf("valid data message rejected: %v", err)
	}
}
