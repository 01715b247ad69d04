package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/netprotolab/rtcp/pkg/common"
)

// finalAckWaitTimeout is how long a passive closer waits for the active
// closer's final ACK before giving up and tearing the connection down
// anyway. A silent peer holds teardown for at most this long.
const finalAckWaitTimeout = 1 * time.Second

// defaultMaxRetransmits bounds how many consecutive retransmissions of the
// oldest unacknowledged segment are tolerated before a connection is
// declared lost.
const defaultMaxRetransmits = 100

// ErrConnectionLost is returned when a segment has been retransmitted
// maxRetransmits times without any forward progress.
var ErrConnectionLost = errors.New("tcp: connection lost: retransmission limit exceeded")

// Config configures a Connection's tunable parameters.
type Config struct {
	MSS               uint16
	SendWindow        uint16
	RecvWindow        uint16
	MaxRetransmits    int
	LossPercent       int
	CorruptionPercent int
	DebugOption       DebugOption
	FaultSeed         int64
	Logger            *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.MSS == 0 {
		c.MSS = DefaultMSS
	}
	if c.SendWindow == 0 {
		c.SendWindow = maxAdvertisedWindow
	}
	if c.RecvWindow == 0 {
		c.RecvWindow = maxAdvertisedWindow
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = defaultMaxRetransmits
	}
	if c.DebugOption == 0 {
		c.DebugOption = DebugOptionNone
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Connection is a single reliable stream between one local and one remote
// datagram endpoint. Unlike a conventional socket API, a Connection only
// ever drives one peer; there is no accept queue or multiplexing, mirroring
// a constructor that takes both endpoints up front.
type Connection struct {
	id  string
	log *logrus.Entry

	LocalAddr  common.IPv4Address
	LocalPort  uint16
	RemoteAddr common.IPv4Address
	RemotePort uint16

	udp *net.UDPConn

	state   *StateMachine
	stateMu sync.Mutex

	isActiveOpener bool

	sendMu sync.Mutex
	sndUna uint32
	sndNxt uint32
	sndWnd uint16
	iss    uint32
	finSeq uint32 // sequence number this side's own FIN was sent with, set by Close

	rcvWndMu sync.Mutex
	irs      uint32

	sendBuffer *SendBuffer
	recvBuffer *ReceiveBuffer
	recvWnd    uint16

	retransmitQueue *RetransmitQueue
	cc              *CongestionControl
	rtt             *RTTEstimator

	mss            uint16
	maxRetransmits int

	fault    *FaultInjector
	profiler *Profiler

	segCh      chan *Segment
	wakeSender chan struct{}
	lostCh     chan struct{}
	doneCh     chan struct{}
	finCh      chan struct{}
	lostOnce   sync.Once
	doneOnce   sync.Once
	finOnce    sync.Once

	sendErr error
	errMu   sync.Mutex
}

// NewConnection creates a connection bound to a local endpoint and peered
// with a single remote endpoint, ready for either Connect (active open) or
// Accept (passive open).
func NewConnection(localAddr common.IPv4Address, localPort uint16, remoteAddr common.IPv4Address, remotePort uint16, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	id := xid.New().String()

	c := &Connection{
		id:              id,
		LocalAddr:       localAddr,
		LocalPort:       localPort,
		RemoteAddr:      remoteAddr,
		RemotePort:      remotePort,
		state:           NewStateMachine(),
		sndWnd:          cfg.SendWindow,
		recvWnd:         cfg.RecvWindow,
		mss:             cfg.MSS,
		maxRetransmits:  cfg.MaxRetransmits,
		sendBuffer:      NewSendBuffer(),
		retransmitQueue: NewRetransmitQueue(),
		cc:              NewCongestionControl(cfg.MSS),
		rtt:             NewRTTEstimator(),
		fault:           NewFaultInjector(cfg.FaultSeed, cfg.LossPercent, cfg.CorruptionPercent, cfg.DebugOption),
		profiler:        NewProfiler(id),
		segCh:           make(chan *Segment, 64),
		wakeSender:      make(chan struct{}, 1),
		lostCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		finCh:           make(chan struct{}),
	}
	c.recvBuffer = NewReceiveBuffer(0, uint32(cfg.RecvWindow))
	c.log = cfg.Logger.WithFields(logrus.Fields{
		"conn_id": id,
		"local":   fmt.Sprintf("%s:%d", localAddr, localPort),
		"remote":  fmt.Sprintf("%s:%d", remoteAddr, remotePort),
	})
	return c
}

// Profiler returns the connection's Prometheus collector, for registration
// with a registry by the caller.
func (c *Connection) Profiler() *Profiler {
	return c.profiler
}

// State returns the connection's current position in the handshake/teardown
// machine.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.GetState()
}

func (c *Connection) transition(event Event) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	before := c.state.GetState()
	err := c.state.Transition(event)
	if err == nil {
		c.log.WithFields(logrus.Fields{"from": before, "to": c.state.GetState(), "event": event}).Debug("state transition")
	}
	return err
}

// generateISN picks an initial sequence number uniformly in [0, 0xFFFF].
// Starting low in the 32-bit sequence space leaves a full stream's worth of
// headroom before offsets added to the ISN wrap.
func (c *Connection) generateISN() uint32 {
	var b [2]byte
	rand.Read(b[:])
	return uint32(binary.BigEndian.Uint16(b[:]))
}

// dial opens the UDP socket bound to the local endpoint and connected to the
// remote one; the active and passive opener open it the same way.
func (c *Connection) dial() error {
	local := &net.UDPAddr{IP: net.IP(c.LocalAddr[:]), Port: int(c.LocalPort)}
	remote := &net.UDPAddr{IP: net.IP(c.RemoteAddr[:]), Port: int(c.RemotePort)}
	conn, err := net.DialUDP("udp4", local, remote)
	if err != nil {
		return fmt.Errorf("dial udp substrate: %w", err)
	}
	c.udp = conn
	return nil
}

func (c *Connection) send(seg *Segment) error {
	wire := seg.Encode()
	if c.fault.ShouldDrop(c.isActiveOpener) {
		c.profiler.RecordPacketDropped()
		c.log.WithField("seq", seg.SequenceNumber).Debug("fault injector dropped outgoing segment")
		return nil
	}
	if c.fault.Corrupt(wire, c.isActiveOpener) {
		c.log.WithField("seq", seg.SequenceNumber).Debug("fault injector corrupted outgoing segment")
	}
	_, err := c.udp.Write(wire)
	if err != nil {
		return err
	}
	c.profiler.RecordSegmentSent(len(seg.Data))
	return nil
}

// readSegment blocks for one datagram and decodes it. A checksum failure is
// reported as an error but is not fatal to the connection; the segment is
// simply discarded and the retransmission machinery recovers the loss.
func (c *Connection) readSegment() (*Segment, error) {
	buf := make([]byte, HeaderLength+int(c.mss)+64)
	n, err := c.udp.Read(buf)
	if err != nil {
		return nil, err
	}
	seg, err := Decode(buf[:n])
	if err != nil {
		if seg != nil {
			c.profiler.RecordChecksumFailure()
		}
		return seg, err
	}
	c.profiler.RecordSegmentReceived(len(seg.Data))
	return seg, nil
}

// readSegmentTimeout is readSegment bounded by a deadline, used during the
// handshake where a lost SYN/SYN+ACK must not block forever.
func (c *Connection) readSegmentTimeout(d time.Duration) (*Segment, error) {
	c.udp.SetReadDeadline(time.Now().Add(d))
	defer c.udp.SetReadDeadline(time.Time{})
	return c.readSegment()
}

// sendHandshakeUntilReply resends seg with a backing-off timeout until
// isReply accepts a reply or the handshake's own retransmit ceiling is
// reached, so a lost SYN or SYN+ACK doesn't block Connect/Accept forever.
func (c *Connection) sendHandshakeUntilReply(seg *Segment, isReply func(*Segment) bool) (*Segment, error) {
	timeout := c.rtt.RTO()
	for attempt := 0; attempt <= c.maxRetransmits; attempt++ {
		if err := c.send(seg); err != nil {
			return nil, err
		}
		reply, err := c.readSegmentTimeout(timeout)
		if err == nil && isReply(reply) {
			return reply, nil
		}
		timeout *= 2
		if timeout > time.Second {
			timeout = time.Second
		}
	}
	return nil, ErrConnectionLost
}

// runReader continuously decodes incoming datagrams and hands them to the
// processor goroutine over segCh, never touching connection state itself;
// the receiver/processor split keeps the datagram read loop off the state
// lock entirely.
func (c *Connection) runReader() {
	for {
		seg, err := c.readSegment()
		if err != nil {
			select {
			case <-c.doneCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Checksum or framing failure: drop the datagram and keep
			// reading, same as a real link delivering garbage.
			continue
		}
		select {
		case c.segCh <- seg:
		case <-c.doneCh:
			return
		}
	}
}

// runProcessor blocks on segCh and demultiplexes arriving segments. It is
// the single place connection state changes in response to input, so it
// never busy-polls the channel; a closed connection simply stops feeding
// it.
func (c *Connection) runProcessor() {
	for {
		select {
		case seg := <-c.segCh:
			c.handleSegment(seg)
		case <-c.doneCh:
			return
		}
	}
}

func (c *Connection) handleSegment(seg *Segment) {
	if seg.HasFlag(FlagACK) {
		c.onAck(seg)
	}
	if len(seg.Data) > 0 {
		c.onData(seg)
	}
	if seg.HasFlag(FlagFIN) {
		c.onFin(seg)
	}
}

func (c *Connection) onAck(seg *Segment) {
	c.sendMu.Lock()
	c.sndWnd = seg.WindowSize

	if seqAfter(seg.AckNumber, c.sndUna) {
		ackedBytes := seg.AckNumber - c.sndUna
		c.sndUna = seg.AckNumber
		covered := c.retransmitQueue.RemoveBefore(seg.AckNumber)
		for _, entry := range covered {
			// Karn's algorithm: a segment that was ever retransmitted
			// yields an ambiguous RTT sample (we can't tell which
			// transmission the ACK corresponds to), so only clock
			// segments that made it through on the first try.
			if entry.RetryCount == 0 {
				c.rtt.UpdateRTT(time.Since(entry.SentAt))
			}
		}
		c.profiler.SetSmoothedRTT(int64(c.rtt.SRTT()))
		c.cc.OnAck(ackedBytes)
		c.profiler.SetCongestionWindow(c.cc.Window())
		c.sendMu.Unlock()
		c.nudgeSender()

		// The active closer's final ACK+FIN covers the passive closer's own
		// FIN; that completes LastAck -> Closed. (The active closer's side of
		// teardown is driven by onFin, since the peer's FIN+ACK arrives
		// carrying an ack number already seen.)
		if c.State() == StateLastAck {
			c.transition(EventReceiveAck)
			c.closeDone()
		}
		return
	}

	// A pure duplicate: same cumulative ack, no payload, and no handshake or
	// teardown flags riding along.
	if seg.AckNumber == c.sndUna && len(seg.Data) == 0 && seg.Flags&(FlagSYN|FlagFIN) == 0 {
		c.profiler.RecordDuplicateAck()
		fastRetransmit := c.cc.OnDuplicateAck()
		c.profiler.SetCongestionWindow(c.cc.Window())
		if fastRetransmit {
			oldest := c.retransmitQueue.Oldest()
			c.sendMu.Unlock()
			if oldest != nil {
				c.profiler.RecordRetransmit()
				c.send(oldest)
			}
			return
		}
	}
	c.sendMu.Unlock()
}

func (c *Connection) onData(seg *Segment) {
	// Every processed segment gets an ACK, whether or not it advanced base:
	// an out-of-order arrival is ACKed with the unchanged existing base,
	// which is exactly what drives duplicate-ACK detection and fast
	// retransmit on the sender side.
	c.recvBuffer.Insert(seg.SequenceNumber, seg.Data)
	ack := NewSegment(c.LocalPort, c.RemotePort, c.nextSendSeq(), c.recvBuffer.Base(), FlagACK, uint16(c.recvBuffer.Window()), nil)
	c.send(ack)
}

func (c *Connection) onFin(seg *Segment) {
	switch c.State() {
	case StateEstablished:
		// The peer is done sending; its FIN occupies one sequence number.
		c.recvBuffer.Insert(seg.SequenceNumber, nil)
		c.transition(EventReceiveFin)
		ack := NewSegment(c.LocalPort, c.RemotePort, c.nextSendSeq(), c.recvBuffer.Base(), FlagACK, uint16(c.recvBuffer.Window()), nil)
		c.send(ack)
		c.finOnce.Do(func() { close(c.finCh) })
	case StateFinWait:
		// The peer's FIN+ACK closes its half of the connection; reply with
		// the final ACK+FIN and finish the active close.
		c.sendMu.Lock()
		finSeq := c.finSeq
		c.sendMu.Unlock()
		final := NewSegment(c.LocalPort, c.RemotePort, finSeq, seg.SequenceNumber+1, FlagFIN|FlagACK, uint16(c.recvBuffer.Window()), nil)
		c.send(final)
		c.transition(EventReceiveAck)
		c.closeDone()
	}
}

func (c *Connection) nextSendSeq() uint32 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sndNxt
}

func (c *Connection) nudgeSender() {
	select {
	case c.wakeSender <- struct{}{}:
	default:
	}
}

// runTimer is the single timer goroutine that watches the pending-ACK
// table's nearest deadline and retransmits whatever has come due, rather
// than every in-flight segment owning its own time.Timer.
func (c *Connection) runTimer() {
	// Adding a segment to the queue doesn't wake this goroutine, so it never
	// sleeps longer than pollInterval before re-reading the nearest deadline.
	const pollInterval = 10 * time.Millisecond

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		deadline, ok := c.retransmitQueue.NextDeadline()
		wait := pollInterval
		if ok {
			if until := time.Until(deadline); until < wait {
				wait = until
			}
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			c.fireExpired()
		case <-c.doneCh:
			return
		}
	}
}

func (c *Connection) fireExpired() {
	now := time.Now()

	c.sendMu.Lock()
	rto := c.rtt.RTO()
	c.sendMu.Unlock()

	// The rescheduled deadline already reflects the doubled timeout the
	// backoff below applies.
	expired := c.retransmitQueue.PopExpired(now, now.Add(2*rto))
	if len(expired) == 0 {
		// Nothing has come due: a poll wakeup, or an ACK beat the timer to
		// the entry.
		return
	}

	c.sendMu.Lock()
	c.cc.OnTimeout()
	c.rtt.BackoffRTO()
	c.profiler.SetCongestionWindow(c.cc.Window())
	c.sendMu.Unlock()

	for _, entry := range expired {
		c.profiler.RecordRetransmit()
		c.send(entry.Segment)

		if entry.RetryCount >= c.maxRetransmits {
			c.failConnection(ErrConnectionLost)
			return
		}
	}
}

func (c *Connection) failConnection(err error) {
	c.errMu.Lock()
	if c.sendErr == nil {
		c.sendErr = err
	}
	c.errMu.Unlock()
	c.lostOnce.Do(func() { close(c.lostCh) })
	// A lost connection is also a finished one: stop the worker goroutines.
	c.closeDone()
}

func (c *Connection) closeDone() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// startWorkers launches the reader, processor, and retransmit-timer
// goroutines. Called once the handshake has put the connection into
// ESTABLISHED.
func (c *Connection) startWorkers() {
	go c.runReader()
	go c.runProcessor()
	go c.runTimer()
}

// Connect performs the active open: generate an ISN, send SYN, wait for
// SYN+ACK, and send the final handshake segment. The final segment reuses
// the original SYN segment with only AckNumber set, not a freshly built
// ACK segment, so it still carries SYN=1, ACK=0 on the wire.
func (c *Connection) Connect() error {
	c.isActiveOpener = true
	if err := c.dial(); err != nil {
		return err
	}
	if err := c.transition(EventActiveOpen); err != nil {
		return err
	}

	c.sendMu.Lock()
	c.iss = c.generateISN()
	c.sndUna = c.iss
	c.sndNxt = c.iss + 1
	c.sendMu.Unlock()

	syn := NewSegment(c.LocalPort, c.RemotePort, c.iss, 0, FlagSYN, maxAdvertisedWindow, nil)
	reply, err := c.sendHandshakeUntilReply(syn, func(s *Segment) bool {
		return s.HasFlag(FlagSYN) && s.HasFlag(FlagACK)
	})
	if err != nil {
		return fmt.Errorf("handshake: waiting for SYN+ACK: %w", err)
	}

	c.rcvWndMu.Lock()
	c.irs = reply.SequenceNumber
	c.rcvWndMu.Unlock()
	c.recvBuffer = NewReceiveBuffer(reply.SequenceNumber+1, uint32(c.recvWnd))

	if err := c.transition(EventReceiveSynAck); err != nil {
		return err
	}

	syn.AckNumber = reply.SequenceNumber
	if err := c.send(syn); err != nil {
		return err
	}

	c.startWorkers()
	c.log.Info("handshake complete (active open)")
	return nil
}

// Accept performs the passive open against the one remote endpoint this
// Connection was constructed with: bind, wait for that peer's SYN, reply
// with SYN+ACK, then wait for the final handshake segment.
func (c *Connection) Accept() error {
	c.isActiveOpener = false
	if err := c.dial(); err != nil {
		return err
	}
	if err := c.transition(EventPassiveOpen); err != nil {
		return err
	}

	var syn *Segment
	for {
		seg, err := c.readSegment()
		if err != nil {
			if seg != nil {
				// Corrupt datagram while listening: drop it and keep waiting.
				continue
			}
			return fmt.Errorf("handshake: waiting for SYN: %w", err)
		}
		if !seg.HasFlag(FlagSYN) || seg.HasFlag(FlagACK) {
			continue
		}
		syn = seg
		break
	}
	if err := c.transition(EventReceiveSyn); err != nil {
		return err
	}

	c.rcvWndMu.Lock()
	c.irs = syn.SequenceNumber
	c.rcvWndMu.Unlock()
	c.recvBuffer = NewReceiveBuffer(syn.SequenceNumber+1, uint32(c.recvWnd))

	c.sendMu.Lock()
	c.iss = c.generateISN()
	c.sndUna = c.iss
	c.sndNxt = c.iss + 1
	c.sendMu.Unlock()

	synAck := NewSegment(c.LocalPort, c.RemotePort, c.iss, syn.SequenceNumber+1, FlagSYN|FlagACK, maxAdvertisedWindow, nil)
	// The client's final handshake segment reuses its original SYN packet
	// object with only AckNumber set (see Connect), so it still carries
	// SYN=1, ACK=0 on the wire. It's accepted here by its AckNumber
	// matching this side's ISN, not by an ACK flag that was never set.
	final, err := c.sendHandshakeUntilReply(synAck, func(s *Segment) bool {
		return s.HasFlag(FlagSYN) && s.AckNumber == c.iss
	})
	if err != nil {
		return fmt.Errorf("handshake: waiting for final ACK: %w", err)
	}
	_ = final
	if err := c.transition(EventReceiveAck); err != nil {
		return err
	}

	c.startWorkers()
	c.log.Info("handshake complete (passive open)")
	return nil
}

// Send queues data for transmission and blocks until every byte has been
// acknowledged. It is only valid for the connection that actively opened:
// the protocol is asymmetric, the active opener sends and the passive
// opener receives, with no bidirectional streaming.
func (c *Connection) Send(data []byte) error {
	if !c.isActiveOpener {
		return errors.New("tcp: Send is only valid on the active opener")
	}
	c.sendBuffer.Write(data)

	total := len(data)
	sentSoFar := 0

	for sentSoFar < total {
		select {
		case <-c.lostCh:
			return c.connectionError()
		default:
		}

		c.sendMu.Lock()
		inFlight := c.sndNxt - c.sndUna
		window := c.cc.Window()
		if flowWindow := uint32(c.sndWnd); flowWindow < window {
			window = flowWindow
		}
		room := int32(window) - int32(inFlight)
		if room <= 0 {
			c.sendMu.Unlock()
			c.waitForProgress()
			continue
		}

		chunkLen := int(room)
		if chunkLen > int(c.mss) {
			chunkLen = int(c.mss)
		}
		if chunkLen > total-sentSoFar {
			chunkLen = total - sentSoFar
		}

		seq := c.sndNxt
		c.sndNxt += uint32(chunkLen)
		rto := c.rtt.RTO()
		c.sendMu.Unlock()

		chunk := c.sendBuffer.Read(chunkLen)
		seg := NewSegment(c.LocalPort, c.RemotePort, seq, c.recvBuffer.Base(), FlagPSH, uint16(c.recvBuffer.Window()), chunk)
		if err := c.send(seg); err != nil {
			return err
		}
		c.retransmitQueue.Add(seq, seg, time.Now().Add(rto))
		sentSoFar += chunkLen
	}

	return c.waitForAllAcked()
}

func (c *Connection) waitForProgress() {
	select {
	case <-c.wakeSender:
	case <-c.lostCh:
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *Connection) waitForAllAcked() error {
	for {
		c.sendMu.Lock()
		done := c.sndUna == c.sndNxt
		c.sendMu.Unlock()
		if done {
			return nil
		}
		select {
		case <-c.lostCh:
			return c.connectionError()
		case <-c.wakeSender:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (c *Connection) connectionError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	return ErrConnectionLost
}

// Recv blocks until the peer's FIN has been observed and returns every byte
// received, in order. It is only valid for the connection that passively
// opened. Once the data is drained it drives this side's own half of the
// four-way teardown (CloseWait -> LastAck -> Closed) via Close, the same way
// an application calling close() on a socket that just saw EOF would.
func (c *Connection) Recv() ([]byte, error) {
	if c.isActiveOpener {
		return nil, errors.New("tcp: Recv is only valid on the passive opener")
	}
	select {
	case <-c.finCh:
	case <-c.lostCh:
		return nil, c.connectionError()
	}
	data := c.recvBuffer.ReadAll()
	if err := c.Close(); err != nil {
		return data, err
	}
	return data, nil
}

// Close sends this side's FIN and drives the rest of the teardown. Called
// directly it performs the active close (Established->FinWait), retransmitting
// the FIN until the peer's FIN+ACK arrives; called from Recv after the peer's
// FIN it performs the passive close (CloseWait->LastAck), waiting at most
// finalAckWaitTimeout for the final ACK+FIN before closing anyway.
func (c *Connection) Close() error {
	activeClose := c.State() == StateEstablished
	if err := c.transition(EventClose); err != nil {
		return err
	}

	c.sendMu.Lock()
	finSeq := c.sndNxt
	c.sndNxt++
	c.finSeq = finSeq
	rto := c.rtt.RTO()
	c.sendMu.Unlock()

	fin := NewSegment(c.LocalPort, c.RemotePort, finSeq, c.recvBuffer.Base(), FlagFIN|FlagACK, uint16(c.recvBuffer.Window()), nil)
	if err := c.send(fin); err != nil {
		return err
	}
	c.retransmitQueue.Add(finSeq, fin, time.Now().Add(rto))

	if activeClose {
		// The retransmit timer keeps re-sending the FIN until the peer's
		// FIN+ACK arrives or the retry governor declares the connection lost.
		select {
		case <-c.doneCh:
		case <-c.lostCh:
			c.transition(EventTimeout)
		}
	} else {
		// Passive close: wait briefly for the final ACK+FIN, then tear down
		// regardless. A silent peer leaves both sides closed either way,
		// just without confirmation.
		select {
		case <-c.doneCh:
		case <-time.After(finalAckWaitTimeout):
			c.log.Warn("timed out waiting for final ACK, closing anyway")
			c.transition(EventTimeout)
			c.closeDone()
		}
	}

	c.retransmitQueue.Clear()
	return c.udp.Close()
}
