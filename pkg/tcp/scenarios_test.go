package tcp

import (
	"bytes"
	"testing"
	"time"

	"github.com/netprotolab/rtcp/pkg/common"
)

// newScenarioPair builds a client/server pair on distinct loopback ports,
// tuned with a short RTO so loss/corruption scenarios don't need to wait out
// the real 1-second default timeout many times over.
func newScenarioPair(t *testing.T, clientPort, serverPort uint16, clientCfg, serverCfg Config) (*Connection, *Connection) {
	t.Helper()
	loopback, err := common.ParseIPv4("127.0.0.1")
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}

	server := NewConnection(loopback, serverPort, loopback, clientPort, serverCfg)
	client := NewConnection(loopback, clientPort, loopback, serverPort, clientCfg)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Accept() }()
	time.Sleep(20 * time.Millisecond)

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	client.sendMu.Lock()
	client.rtt.rto = 30 * time.Millisecond
	client.sendMu.Unlock()
	server.sendMu.Lock()
	server.rtt.rto = 30 * time.Millisecond
	server.sendMu.Unlock()

	return client, server
}

func runTransfer(t *testing.T, client, server *Connection, payload []byte) []byte {
	t.Helper()

	sendErr := make(chan error, 1)
	go func() { sendErr <- client.Send(payload) }()

	recvErr := make(chan error, 1)
	var received []byte
	go func() {
		data, err := server.Recv()
		received = data
		recvErr <- err
	}()

	select {
	case err := <-sendErr:
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send() timed out")
	}

	go client.Close()

	select {
	case err := <-recvErr:
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Recv() timed out")
	}

	return received
}

func TestScenarioCleanTransfer(t *testing.T) {
	client, server := newScenarioPair(t, 50100, 50101, Config{MSS: 5000}, Config{MSS: 5000})

	payload := bytes.Repeat([]byte{0xAA}, 100_000)

	sendErr := make(chan error, 1)
	go func() { sendErr <- client.Send(payload) }()

	recvErr := make(chan error, 1)
	var received []byte
	go func() {
		data, err := server.Recv()
		received = data
		recvErr <- err
	}()

	select {
	case err := <-sendErr:
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Send() timed out")
	}

	// Every payload byte is cumulatively acked; the FIN hasn't consumed its
	// sequence number yet, so the acked stream offset is exactly the payload.
	client.sendMu.Lock()
	ackedOffset := client.sndUna - (client.iss + 1)
	client.sendMu.Unlock()
	if ackedOffset != 100_000 {
		t.Errorf("acked stream offset = %d, want 100000", ackedOffset)
	}

	go client.Close()

	select {
	case err := <-recvErr:
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Recv() timed out")
	}

	if len(received) != 100_000 {
		t.Fatalf("received %d bytes, want 100000", len(received))
	}
	if !bytes.Equal(received, payload) {
		t.Fatal("received payload does not match the 0xAA pattern sent")
	}
}

func TestScenarioDataLossRecovers(t *testing.T) {
	// A small MSS spreads the payload over enough segments that 50% loss is
	// statistically certain to force timeouts, not just slow the transfer.
	client, server := newScenarioPair(t, 50110, 50111, Config{MSS: 500}, Config{})
	client.fault = NewFaultInjector(11, 50, 0, DebugOptionDropData)

	payload := bytes.Repeat([]byte{0x42}, 20_000)
	received := runTransfer(t, client, server, payload)

	if !bytes.Equal(received, payload) {
		t.Fatalf("received %d bytes, want %d matching bytes", len(received), len(payload))
	}
	if n := client.profiler.retransmissions.Load(); n == 0 {
		t.Error("expected at least one retransmission under 50% data loss")
	}
	// ssthresh is only ever set by a retransmission timeout.
	client.sendMu.Lock()
	_, timedOut := client.cc.Ssthresh()
	client.sendMu.Unlock()
	if !timedOut {
		t.Error("expected at least one timeout to have set ssthresh and reset to SlowStart")
	}
}

func TestScenarioCorruptionTriggersFastRetransmit(t *testing.T) {
	// Small MSS keeps several segments in flight, so a corrupted one in the
	// middle produces the out-of-order arrivals that duplicate ACKs need.
	client, server := newScenarioPair(t, 50120, 50121, Config{MSS: 500}, Config{})
	client.fault = NewFaultInjector(21, 0, 20, DebugOptionCorruptData)

	payload := bytes.Repeat([]byte{0x7E}, 20_000)
	received := runTransfer(t, client, server, payload)

	if !bytes.Equal(received, payload) {
		t.Fatalf("received %d bytes, want %d matching bytes", len(received), len(payload))
	}

	// Corruption gaps in the server's received stream make onData ACK every
	// segment with the existing base (in-order or not), so the client -
	// the sender here - should observe those as duplicate ACKs and drive
	// its congestion controller through the fast-retransmit path.
	if n := client.profiler.duplicateAcks.Load(); n == 0 {
		t.Error("expected client to have recorded at least one duplicate ACK")
	}
	if n := client.profiler.retransmissions.Load(); n == 0 {
		t.Error("expected client to have recorded at least one retransmission")
	}
}

func TestScenarioAckLossRecovers(t *testing.T) {
	client, server := newScenarioPair(t, 50140, 50141, Config{MSS: 500}, Config{})
	// debug_option 4 targets the reverse (ACK) direction, which this
	// connection's receiver sends, so the gate lives on the server.
	server.fault = NewFaultInjector(41, 50, 0, DebugOptionDropAck)

	payload := bytes.Repeat([]byte{0x5A}, 20_000)
	received := runTransfer(t, client, server, payload)

	if !bytes.Equal(received, payload) {
		t.Fatalf("received %d bytes, want %d matching bytes", len(received), len(payload))
	}
	if n := client.profiler.retransmissions.Load(); n == 0 {
		t.Error("expected at least one retransmission under 50% ACK loss")
	}
	client.sendMu.Lock()
	factor := client.cc.CwndFactor()
	client.sendMu.Unlock()
	if factor < 1 {
		t.Errorf("cwndFactor = %v, want >= 1", factor)
	}
}

func TestScenarioTeardownUnderLoss(t *testing.T) {
	client, server := newScenarioPair(t, 50150, 50151, Config{}, Config{})
	// debug_option 5 (drop forward-direction segments) also gates the
	// active closer's FIN, so the gate lives on the client here.
	client.fault = NewFaultInjector(51, 50, 0, DebugOptionDropData)

	// Recv must be running so the passive side observes the FIN and drives
	// its own half of the teardown (CloseWait->LastAck->Closed); nothing
	// else triggers that transition, same as an application that must call
	// close() after reading EOF from a socket.
	go server.Recv()

	closeErr := make(chan error, 1)
	go func() { closeErr <- client.Close() }()

	select {
	case err := <-closeErr:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close() never returned under 50% FIN loss")
	}

	deadline := time.Now().Add(5 * time.Second)
	for server.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.State() != StateClosed {
		t.Errorf("server state = %v, want CLOSED", server.State())
	}
}

func TestScenarioHandshakeResilienceUnderLoss(t *testing.T) {
	// debug_option 4 (drop reverse-direction ACKs) gates the passive
	// opener's SYN+ACK, the segment actually at risk during an active
	// open, so the loss gate belongs on the server, not the client.
	loopback, _ := common.ParseIPv4("127.0.0.1")
	server := NewConnection(loopback, 50131, loopback, 50130, Config{
		LossPercent: 80,
		DebugOption: DebugOptionDropAck,
		FaultSeed:   31,
	})
	client := NewConnection(loopback, 50130, loopback, 50131, Config{})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Accept() }()
	time.Sleep(20 * time.Millisecond)

	client.rtt.rto = 20 * time.Millisecond

	connectErr := make(chan error, 1)
	go func() { connectErr <- client.Connect() }()

	select {
	case err := <-connectErr:
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handshake never completed under 80% loss")
	}

	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never observed a completed handshake")
	}

	if server.State() != StateEstablished {
		t.Errorf("server state = %v, want ESTABLISHED", server.State())
	}
}
