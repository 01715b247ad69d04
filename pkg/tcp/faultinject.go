package tcp

import (
	"math/rand"
	"sync"
)

// DebugOption selects which direction of traffic a connection's fault
// injector targets. The protocol is asymmetric (the active opener sends
// data "forward", the passive opener sends acknowledgments "reverse"), so
// the gate is keyed on which role is transmitting rather than on any
// per-segment flag.
type DebugOption int

const (
	// DebugOptionNone runs the connection with no injected faults.
	DebugOptionNone DebugOption = 1
	// DebugOptionCorruptAck corrupts reverse-direction segments: the
	// receiver's data ACKs plus its SYN+ACK and FIN+ACK handshake/teardown
	// replies.
	DebugOptionCorruptAck DebugOption = 2
	// DebugOptionCorruptData corrupts forward-direction segments: the
	// sender's data segments plus its SYN and FIN.
	DebugOptionCorruptData DebugOption = 3
	// DebugOptionDropAck drops reverse-direction segments, also gating the
	// receiver's handshake/teardown acknowledgments.
	DebugOptionDropAck DebugOption = 4
	// DebugOptionDropData drops forward-direction segments, also gating the
	// sender's SYN and FIN.
	DebugOptionDropData DebugOption = 5
)

// FaultInjector applies configurable, independent Bernoulli loss and
// corruption gates to outgoing segments, each a uniform percentage draw
// simulating an unreliable link, restricted to whichever single direction
// debugOption selects. The RNG is seeded explicitly so fault injection is
// reproducible in tests.
type FaultInjector struct {
	mu                sync.Mutex // the rng is shared by every sending goroutine
	rng               *rand.Rand
	lossPercent       int
	corruptionPercent int
	debugOption       DebugOption
}

// NewFaultInjector creates an injector with the given loss/corruption
// percentages (0-100), a deterministic seed, and the debug option selecting
// which direction (if any) the gates apply to.
func NewFaultInjector(seed int64, lossPercent, corruptionPercent int, debugOption DebugOption) *FaultInjector {
	if debugOption < DebugOptionNone || debugOption > DebugOptionDropData {
		debugOption = DebugOptionNone
	}
	return &FaultInjector{
		rng:               rand.New(rand.NewSource(seed)),
		lossPercent:       clampPercent(lossPercent),
		corruptionPercent: clampPercent(corruptionPercent),
		debugOption:       debugOption,
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ShouldDrop reports whether a segment about to be sent in the given
// direction should be silently skipped instead. isDataDirection is true for
// segments sent by the active opener (sender), false for segments sent by
// the passive opener (receiver).
func (f *FaultInjector) ShouldDrop(isDataDirection bool) bool {
	switch f.debugOption {
	case DebugOptionDropData:
		if !isDataDirection {
			return false
		}
	case DebugOptionDropAck:
		if isDataDirection {
			return false
		}
	default:
		return false
	}
	if f.lossPercent <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Intn(100) < f.lossPercent
}

// Corrupt flips a single random bit anywhere in the wire bytes for a segment
// travelling in the given direction, at the configured rate. It mutates wire
// in place and returns whether it did so; whichever byte the flip lands in,
// the checksum recomputed on decode no longer matches the carried one.
func (f *FaultInjector) Corrupt(wire []byte, isDataDirection bool) bool {
	switch f.debugOption {
	case DebugOptionCorruptData:
		if !isDataDirection {
			return false
		}
	case DebugOptionCorruptAck:
		if isDataDirection {
			return false
		}
	default:
		return false
	}
	if f.corruptionPercent <= 0 || len(wire) == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng.Intn(100) >= f.corruptionPercent {
		return false
	}
	byteIdx := f.rng.Intn(len(wire))
	bitIdx := uint(f.rng.Intn(8))
	wire[byteIdx] ^= 1 << bitIdx
	return true
}
