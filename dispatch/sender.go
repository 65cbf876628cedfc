package dispatch

import (
	"errors"
	"sync"

	"github.com/mfulz/geistbind/protocol"
)

// ErrNotConnected is returned when a frame is sent without a host connection.
var ErrNotConnected = errors.New("no host connection")

// Sender writes a frame to the host.
type Sender interface {
	Send(frame protocol.Hash) error
}

// Outbound is the Sender all reply-producing components share. The active
// connection registers itself on connect and clears itself on close.
type Outbound struct {
	mu     sync.RWMutex
	sender Sender
}

// Set makes s the active connection.
func (o *Outbound) Set(s Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = s
}

// Clear unregisters s if it is still the active connection.
func (o *Outbound) Clear(s Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sender == s {
		o.sender = nil
	}
}

// Connected reports whether a connection is registered.
func (o *Outbound) Connected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sender != nil
}

// Send writes frame to the active connection.
func (o *Outbound) Send(frame protocol.Hash) error {
	o.mu.RLock()
	s := o.sender
	o.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.Send(frame)
}
