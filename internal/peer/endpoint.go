// Package peer owns one logical peer-to-peer session, host or client
// role, on top of a signaling endpoint. It handles identity
// registration, collision retry, connection replacement, and periodic
// repair of a desired-but-absent client connection.
package peer

// Endpoint is the signaling-layer surface the manager drives. The
// production implementation speaks to the rendezvous relay over a
// websocket; tests use an in-memory fake.
type Endpoint interface {
	// Register claims a host identity with the signaling layer. The
	// outcome arrives as EndpointRegistered or EndpointUnavailable.
	Register(identity string)

	// Dial requests an outbound connection to a host identity. The
	// outcome arrives as EndpointConnOpen or EndpointError.
	Dial(target string)

	// SendData forwards text on an established connection.
	SendData(connID, text string)

	// CloseConn tears down one established connection.
	CloseConn(connID string)

	// Disconnected reports the signaling link is down but the endpoint
	// has not been destroyed; Reconnect may bring it back.
	Disconnected() bool

	// Reconnect re-establishes the signaling link after a transient
	// loss. Safe to call repeatedly; attempts in flight are not
	// duplicated.
	Reconnect()

	// Events delivers signaling and connection events until Close.
	Events() <-chan EndpointEvent

	// Close destroys the endpoint. No events are delivered afterwards.
	Close()
}

// EndpointEventKind tags EndpointEvent.
type EndpointEventKind int

const (
	// EndpointReady: signaling link established and usable.
	EndpointReady EndpointEventKind = iota
	// EndpointRegistered: host identity claim accepted.
	EndpointRegistered
	// EndpointUnavailable: host identity already claimed elsewhere.
	EndpointUnavailable
	// EndpointConnOpen: a connection opened (inbound or outbound).
	EndpointConnOpen
	// EndpointConnData: text arrived on a connection.
	EndpointConnData
	// EndpointConnClose: a connection closed.
	EndpointConnClose
	// EndpointError: a connection or dial attempt failed.
	EndpointError
	// EndpointLost: the signaling link dropped.
	EndpointLost
)

// EndpointEvent is one event from the signaling layer.
type EndpointEvent struct {
	Kind   EndpointEventKind
	ConnID string
	Peer   string // remote identity, relay-namespaced
	Text   string
	Reason string
}
