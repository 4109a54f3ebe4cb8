package hub

import (
	"sync"

	"elsa-quiz-live/internal/protocol"
)

// Peer is one connected client as the hub sees it. Frames queued for it are
// drained by the transport.
type Peer struct {
	id        string
	principal string
	out       chan protocol.Frame

	mu       sync.Mutex
	roomCode string
	closed   bool
}

// NewPeer returns a peer with an outbound queue of the given size.
func NewPeer(id string, buffer int) *Peer {
	if buffer <= 0 {
		buffer = 32
	}
	return &Peer{id: id, out: make(chan protocol.Frame, buffer)}
}

// NewAuthenticatedPeer returns a peer bound to the credential it connected
// with. A later connection with the same principal may take over its seat.
func NewAuthenticatedPeer(id, principal string, buffer int) *Peer {
	p := NewPeer(id, buffer)
	p.principal = principal
	return p
}

// ID is the participant id the hub assigned to this connection.
func (p *Peer) ID() string { return p.id }

// Outbound delivers frames to write to the connection.
func (p *Peer) Outbound() <-chan protocol.Frame { return p.out }

// Send queues f. When the queue is full the oldest frame is dropped so a
// stalled connection never blocks a room broadcast.
func (p *Peer) Send(f protocol.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.out <- f:
	default:
		select {
		case <-p.out:
		default:
		}
		p.out <- f
	}
}

// Close stops delivery and closes the outbound queue.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
}

func (p *Peer) samePrincipal(other *Peer) bool {
	return p.principal != "" && p.principal == other.principal
}

func (p *Peer) room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomCode
}

func (p *Peer) setRoom(code string) {
	p.mu.Lock()
	p.roomCode = code
	p.mu.Unlock()
}
