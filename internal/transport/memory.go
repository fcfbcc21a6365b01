package transport

import (
	"context"
	"errors"
	"net/netip"
	"sync"
)

// ErrClosed is returned by a MemoryTransport after Close.
var ErrClosed = errors.New("transport closed")

// Hub is an in-process broadcast domain for simulating a swarm.
// Deliveries to a full inbox are dropped, like a lossy network.
type Hub struct {
	mu        sync.RWMutex
	members   map[netip.Addr]*MemoryTransport
	inboxSize int
}

// NewHub creates a Hub whose members buffer up to inboxSize datagrams.
func NewHub(inboxSize int) *Hub {
	if inboxSize <= 0 {
		inboxSize = 1
	}
	return &Hub{members: make(map[netip.Addr]*MemoryTransport), inboxSize: inboxSize}
}

// Join attaches a member with the given address.
func (h *Hub) Join(addr netip.Addr) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := &MemoryTransport{hub: h, addr: addr, inbox: make(chan Datagram, h.inboxSize)}
	h.members[addr] = m
	return m
}

func (h *Hub) deliver(to *MemoryTransport, d Datagram) {
	select {
	case to.inbox <- d:
	default:
	}
}

// MemoryTransport is one member of a Hub.
type MemoryTransport struct {
	hub    *Hub
	addr   netip.Addr
	inbox  chan Datagram
	closed bool
}

// Addr returns the member's address.
func (m *MemoryTransport) Addr() netip.Addr { return m.addr }

// Broadcast delivers frame to every member, the sender included.
func (m *MemoryTransport) Broadcast(frame []byte) error {
	m.hub.mu.RLock()
	defer m.hub.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, member := range m.hub.members {
		m.hub.deliver(member, Datagram{Payload: append([]byte(nil), frame...), From: m.addr})
	}
	return nil
}

// SendTo delivers frame to the member at addr, silently dropping it when
// no such member exists.
func (m *MemoryTransport) SendTo(addr netip.Addr, frame []byte) error {
	m.hub.mu.RLock()
	defer m.hub.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if to, ok := m.hub.members[addr]; ok {
		m.hub.deliver(to, Datagram{Payload: append([]byte(nil), frame...), From: m.addr})
	}
	return nil
}

// Poll returns one pending datagram without blocking.
func (m *MemoryTransport) Poll() (Datagram, bool, error) {
	select {
	case d := <-m.inbox:
		return d, true, nil
	default:
		return Datagram{}, false, nil
	}
}

// Receive blocks until a datagram arrives or ctx is done.
func (m *MemoryTransport) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d := <-m.inbox:
		return d, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Pending reports how many datagrams wait in the inbox.
func (m *MemoryTransport) Pending() int { return len(m.inbox) }

// Close detaches the member from its hub.
func (m *MemoryTransport) Close() error {
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	m.closed = true
	delete(m.hub.members, m.addr)
	return nil
}
