// Package device owns the physical byte channel to the sign device:
// selection, opening, the framed read loop, opportunistic reconnect,
// and unplug handling.
package device

import (
	"errors"
	"io"
)

var (
	// ErrNoChannel: no device channel is present to open.
	ErrNoChannel = errors.New("device: no channel available")
	// ErrSelectionCancelled: the user dismissed channel selection.
	// Treated as a silent no-op by the adapter, not an error.
	ErrSelectionCancelled = errors.New("device: selection cancelled")
)

// Channel is one open byte-oriented connection to a device. Close must
// unblock a pending Read.
type Channel interface {
	io.ReadWriteCloser
	Name() string
}

// PlugEvent reports a device appearing or disappearing.
type PlugEvent struct {
	Name     string
	Attached bool
}

// Provider enumerates and opens device channels. The serial
// implementation lives in this package; tests use an in-memory fake.
type Provider interface {
	// ListAuthorized returns channels that may be opened without
	// prompting, most recently used first.
	ListAuthorized() []string

	// Request interactively selects a channel. ErrNoChannel when none
	// exist, ErrSelectionCancelled when the user dismisses the prompt.
	Request() (string, error)

	// Open opens the named channel.
	Open(name string) (Channel, error)

	// PlugEvents delivers attach/detach notifications.
	PlugEvents() <-chan PlugEvent
}
