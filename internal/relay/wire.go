// Package relay implements the rendezvous service brokering peer
// sessions: hosts claim a discoverable identity, clients dial one, and
// data frames are forwarded pairwise between the two endpoints of each
// logical connection.
package relay

import (
	"errors"
	"fmt"
	"strings"
)

// Message types on the relay websocket, both directions.
const (
	// client -> relay
	TypeRegister = "register" // host claims an identity
	TypeDial     = "dial"     // client requests a connection to a host identity
	TypeData     = "data"     // payload on an established connection
	TypeClose    = "close"    // tear down one connection

	// relay -> client
	TypeRegistered  = "registered"  // identity claim accepted
	TypeUnavailable = "unavailable" // identity already claimed
	TypeOpen        = "open"        // connection established, both ends
	TypeError       = "error"       // per-connection or dial failure
)

var (
	ErrUnknownType     = errors.New("relay: unknown message type")
	ErrIdentityMissing = errors.New("relay: identity required")
	ErrTargetMissing   = errors.New("relay: target required")
	ErrConnIDMissing   = errors.New("relay: conn_id required")
	ErrTextMissing     = errors.New("relay: text payload required")
)

// Message is the single wire envelope. Field use depends on Type.
type Message struct {
	Type     string `json:"type"`
	Identity string `json:"identity,omitempty"` // register: claimed identity
	Target   string `json:"target,omitempty"`   // dial: destination identity
	ConnID   string `json:"conn_id,omitempty"`  // data/close/open/error
	Peer     string `json:"peer,omitempty"`     // open: remote identity
	Text     string `json:"text,omitempty"`     // data payload
	Reason   string `json:"reason,omitempty"`   // error detail
}

// Validate checks the envelope is well-formed for its type. Only
// client-originated types are validated strictly; relay-originated
// types are produced by the relay itself.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if strings.TrimSpace(m.Identity) == "" {
			return ErrIdentityMissing
		}
	case TypeDial:
		if strings.TrimSpace(m.Target) == "" {
			return ErrTargetMissing
		}
	case TypeData:
		if strings.TrimSpace(m.ConnID) == "" {
			return ErrConnIDMissing
		}
		if m.Text == "" {
			return ErrTextMissing
		}
	case TypeClose:
		if strings.TrimSpace(m.ConnID) == "" {
			return ErrConnIDMissing
		}
	case TypeRegistered, TypeUnavailable, TypeOpen, TypeError:
		// relay-originated; nothing to enforce client-side
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}
