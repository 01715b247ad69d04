// Package tcp implements a reliable, connection-oriented transport on top of
// an unreliable datagram substrate.
package tcp

import "fmt"

// State represents the connection's position in the simplified handshake and
// teardown machine. Unlike RFC 793, there is no FIN_WAIT_2/CLOSING/TIME_WAIT
// split: the passive closer waits out a single fixed timeout for the final
// acknowledgment instead of tracking the remote's independent close.
type State int

const (
	// StateClosed is the initial and final state of every connection.
	StateClosed State = iota

	// StateListen is a passive opener waiting for an incoming SYN.
	StateListen

	// StateSynSent is an active opener waiting for the SYN+ACK reply.
	StateSynSent

	// StateSynReceived is a passive opener that has seen a SYN and sent
	// its own SYN+ACK, waiting for the final handshake ACK.
	StateSynReceived

	// StateEstablished is the normal data-transfer state.
	StateEstablished

	// StateFinWait is an active closer waiting for the peer's FIN+ACK after
	// sending FIN.
	StateFinWait

	// StateCloseWait is a passive closer that has seen the peer's FIN and
	// is waiting for the local application to call Close.
	StateCloseWait

	// StateLastAck is a passive closer waiting for the ACK of its own FIN.
	StateLastAck
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsEstablished returns true in ESTABLISHED and CLOSE_WAIT: the handshake has
// completed and this side has not yet sent its own FIN.
func (s State) IsEstablished() bool {
	return s == StateEstablished || s == StateCloseWait
}

// Event represents a trigger that may move the state machine forward.
type Event int

const (
	EventActiveOpen Event = iota
	EventPassiveOpen
	EventReceiveSyn
	EventReceiveSynAck
	EventReceiveAck
	EventReceiveFin
	EventClose
	EventTimeout
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventActiveOpen:
		return "ACTIVE_OPEN"
	case EventPassiveOpen:
		return "PASSIVE_OPEN"
	case EventReceiveSyn:
		return "RECEIVE_SYN"
	case EventReceiveSynAck:
		return "RECEIVE_SYN_ACK"
	case EventReceiveAck:
		return "RECEIVE_ACK"
	case EventReceiveFin:
		return "RECEIVE_FIN"
	case EventClose:
		return "CLOSE"
	case EventTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(e))
	}
}

// StateMachine tracks the connection's position in the simplified handshake
// and teardown sequence described by the segment exchange rules: client runs
// Closed->SynSent->Established->FinWait->Closed, server runs
// Closed->Listen->SynRcvd->Established->CloseWait->LastAck->Closed.
type StateMachine struct {
	state State
}

// NewStateMachine creates a state machine starting at StateClosed.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateClosed}
}

// GetState returns the current state.
func (sm *StateMachine) GetState() State {
	return sm.state
}

// SetState forces the state directly, bypassing the event checks of
// Transition.
func (sm *StateMachine) SetState(state State) {
	sm.state = state
}

// Transition attempts to move to a new state based on event, returning an
// error if the event is not valid from the current state.
func (sm *StateMachine) Transition(event Event) error {
	newState, err := sm.nextState(event)
	if err != nil {
		return err
	}
	sm.state = newState
	return nil
}

func (sm *StateMachine) nextState(event Event) (State, error) {
	switch sm.state {
	case StateClosed:
		switch event {
		case EventActiveOpen:
			return StateSynSent, nil
		case EventPassiveOpen:
			return StateListen, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateListen:
		switch event {
		case EventReceiveSyn:
			return StateSynReceived, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateSynSent:
		switch event {
		case EventReceiveSynAck:
			return StateEstablished, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateSynReceived:
		switch event {
		case EventReceiveAck:
			return StateEstablished, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateEstablished:
		switch event {
		case EventClose:
			return StateFinWait, nil
		case EventReceiveFin:
			return StateCloseWait, nil
		default:
			// Sending and receiving data doesn't change state.
			return sm.state, nil
		}

	case StateFinWait:
		switch event {
		case EventReceiveAck, EventTimeout:
			return StateClosed, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	case StateCloseWait:
		switch event {
		case EventClose:
			return StateLastAck, nil
		default:
			// The application may still be draining received data.
			return sm.state, nil
		}

	case StateLastAck:
		switch event {
		case EventReceiveAck, EventTimeout:
			return StateClosed, nil
		default:
			return sm.state, fmt.Errorf("invalid event %s for state %s", event, sm.state)
		}

	default:
		return sm.state, fmt.Errorf("unknown state %s", sm.state)
	}
}
