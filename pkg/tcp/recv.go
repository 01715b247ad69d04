package tcp

import (
	"sync"
)

// maxAdvertisedWindow is the largest receive window this implementation
// will ever advertise; the window field is a 16-bit wire value.
const maxAdvertisedWindow = 0xFFFF

// ReceiveBuffer reassembles segments arriving out of order into the
// contiguous byte stream the application reads, tracking a single base
// sequence number: no SACK blocks, just one base pointer and a stash of
// not-yet-contiguous segments.
type ReceiveBuffer struct {
	mu sync.Mutex

	base    uint32
	ready   []byte
	pending map[uint32][]byte
	window  uint32
}

// NewReceiveBuffer creates a receive buffer starting at base with an initial
// advertised window.
func NewReceiveBuffer(base uint32, initialWindow uint32) *ReceiveBuffer {
	return &ReceiveBuffer{
		base:    base,
		pending: make(map[uint32][]byte),
		window:  initialWindow,
	}
}

// Insert delivers a segment's payload at sequence number seq. If seq matches
// the current base, the payload (and any now-contiguous pending segments)
// is appended to the ready stream and the base advances past it. Otherwise
// the payload is stashed until the gap is filled, and its length is withheld
// from the advertised window until then. In-order bytes pass straight
// through to the ready stream, so they never move the window: the subtract
// on buffering and the add-back on delivery cancel out. Returns true if the
// segment advanced the base (i.e. should be cumulatively acknowledged).
func (rb *ReceiveBuffer) Insert(seq uint32, payload []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(payload) == 0 {
		// A control segment (FIN) still occupies one sequence number.
		if seq != rb.base {
			return false
		}
		rb.base++
		rb.drainPending()
		return true
	}

	if seq != rb.base {
		if seqAfter(seq, rb.base) {
			if _, stashed := rb.pending[seq]; !stashed {
				rb.pending[seq] = payload
				rb.shrinkWindow(len(payload))
			}
		}
		return false
	}

	rb.ready = append(rb.ready, payload...)
	rb.base += uint32(len(payload))
	rb.drainPending()

	return true
}

// drainPending appends any previously out-of-order segments that the base
// has now caught up to, advancing it past them in turn.
func (rb *ReceiveBuffer) drainPending() {
	for {
		next, ok := rb.pending[rb.base]
		if !ok {
			break
		}
		delete(rb.pending, rb.base)
		rb.ready = append(rb.ready, next...)
		rb.base += uint32(len(next))
		rb.growWindow(len(next))
	}
}

// shrinkWindow withholds advertised window for bytes buffered out of order,
// floored at 1 so the peer is never told the window has fully closed.
func (rb *ReceiveBuffer) shrinkWindow(n int) {
	if uint32(n) >= rb.window {
		rb.window = 1
		return
	}
	rb.window -= uint32(n)
}

// growWindow gives back window as buffered data is delivered, capped at the
// 16-bit wire maximum.
func (rb *ReceiveBuffer) growWindow(n int) {
	rb.window += uint32(n)
	if rb.window > maxAdvertisedWindow {
		rb.window = maxAdvertisedWindow
	}
}

// Base returns the next expected in-order sequence number (the cumulative
// ACK value to send).
func (rb *ReceiveBuffer) Base() uint32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.base
}

// Window returns the currently advertised receive window.
func (rb *ReceiveBuffer) Window() uint32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.window
}

// Read drains up to n bytes of contiguous, in-order data.
func (rb *ReceiveBuffer) Read(n int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.ready) == 0 {
		return nil
	}
	if n > len(rb.ready) {
		n = len(rb.ready)
	}

	data := make([]byte, n)
	copy(data, rb.ready[:n])
	rb.ready = rb.ready[n:]
	return data
}

// ReadAll drains every contiguous byte currently ready.
func (rb *ReceiveBuffer) ReadAll() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.ready) == 0 {
		return nil
	}
	data := rb.ready
	rb.ready = nil
	return data
}

// Len returns the number of contiguous bytes ready to be read.
func (rb *ReceiveBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.ready)
}
