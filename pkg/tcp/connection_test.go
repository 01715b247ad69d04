package tcp

import (
	"testing"
	"time"

	"github.com/netprotolab/rtcp/pkg/common"
)

func loopbackPair(t *testing.T) (client, server *Connection, clientPort, serverPort uint16) {
	t.Helper()
	loopback, err := common.ParseIPv4("127.0.0.1")
	if err != nil {
		t.Fatalf("ParseIPv4: %v", err)
	}

	serverPort = 42100
	clientPort = 42101

	serverCfg := Config{FaultSeed: 1}
	clientCfg := Config{FaultSeed: 2}

	server = NewConnection(loopback, serverPort, loopback, clientPort, serverCfg)
	client = NewConnection(loopback, clientPort, loopback, serverPort, clientCfg)
	return client, server, clientPort, serverPort
}

func TestConnectionHandshakeAndTeardown(t *testing.T) {
	client, server, _, _ := loopbackPair(t)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Accept()
	}()

	time.Sleep(20 * time.Millisecond)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if client.State() != StateEstablished {
		t.Errorf("client state = %v, want ESTABLISHED", client.State())
	}
	if server.State() != StateEstablished {
		t.Errorf("server state = %v, want ESTABLISHED", server.State())
	}

	payload := []byte("hello over a lossless loopback link")
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- client.Send(payload)
	}()

	recvErr := make(chan error, 1)
	var received []byte
	go func() {
		data, err := server.Recv()
		received = data
		recvErr <- err
	}()

	closeErr := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		closeErr <- client.Close()
	}()

	select {
	case err := <-sendErr:
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send() timed out")
	}

	select {
	case err := <-recvErr:
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Recv() timed out")
	}

	if string(received) != string(payload) {
		t.Errorf("received %q, want %q", received, payload)
	}

	if err := <-closeErr; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestConnectionSendWrongRoleRejected(t *testing.T) {
	loopback, _ := common.ParseIPv4("127.0.0.1")
	c := NewConnection(loopback, 43000, loopback, 43001, Config{})
	c.isActiveOpener = false
	if err := c.Send([]byte("x")); err == nil {
		t.Error("Send() on a passive opener should fail")
	}
}

func TestConnectionRecvWrongRoleRejected(t *testing.T) {
	loopback, _ := common.ParseIPv4("127.0.0.1")
	c := NewConnection(loopback, 43002, loopback, 43003, Config{})
	c.isActiveOpener = true
	if _, err := c.Recv(); err == nil {
		t.Error("Recv() on an active opener should fail")
	}
}

func TestConnectionLostUnderTotalLoss(t *testing.T) {
	loopback, _ := common.ParseIPv4("127.0.0.1")

	serverPort := uint16(42200)
	clientPort := uint16(42201)

	server := NewConnection(loopback, serverPort, loopback, clientPort, Config{})
	client := NewConnection(loopback, clientPort, loopback, serverPort, Config{
		MaxRetransmits: 2,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Accept() }()
	time.Sleep(20 * time.Millisecond)
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-serverErr

	// Only start dropping segments after the handshake completes, so the
	// handshake itself isn't affected by the fault injector.
	client.fault = NewFaultInjector(3, 100, 0, DebugOptionDropData)
	client.sendMu.Lock()
	client.rtt.rto = 10 * time.Millisecond
	client.sendMu.Unlock()

	err := client.Send([]byte("this will never arrive"))
	if err != ErrConnectionLost {
		t.Errorf("Send() error = %v, want ErrConnectionLost", err)
	}
}
