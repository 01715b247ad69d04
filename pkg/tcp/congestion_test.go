package tcp

import (
	"testing"
	"time"
)

func TestCongestionControlSlowStartGrowth(t *testing.T) {
	cc := NewCongestionControl(1000)

	if cc.State() != SlowStart {
		t.Fatalf("initial state = %s, want SLOW_START", cc.State())
	}
	if cc.Window() != 1000 {
		t.Fatalf("initial window = %d, want 1000", cc.Window())
	}

	cc.OnAck(1000)
	if cc.CwndFactor() != 2 {
		t.Errorf("cwndFactor after 1 ack = %v, want 2", cc.CwndFactor())
	}

	cc.OnAck(1000)
	if cc.CwndFactor() != 3 {
		t.Errorf("cwndFactor after 2 acks = %v, want 3", cc.CwndFactor())
	}
}

func TestCongestionControlDuplicateAckGrowsWindow(t *testing.T) {
	cc := NewCongestionControl(1000)

	triggered := cc.OnDuplicateAck()
	if triggered {
		t.Error("first duplicate ACK should not trigger fast retransmit")
	}
	if cc.CwndFactor() != 2 {
		t.Errorf("cwndFactor after 1 dup ack = %v, want 2 (grows on every dup ack)", cc.CwndFactor())
	}
}

func TestCongestionControlDuplicateAckInCongestionAvoidance(t *testing.T) {
	cc := NewCongestionControl(1000)
	cc.OnTimeout() // ssthresh = 500
	cc.OnAck(1000) // cwndFactor = 2, window 2000 >= 500 -> congestion avoidance

	cc.OnDuplicateAck() // += 1000/(2*1000) = 0.5 -> 2.5

	if cc.CwndFactor() != 2.5 {
		t.Errorf("cwndFactor after dup ack in congestion avoidance = %v, want 2.5", cc.CwndFactor())
	}
}

func TestCongestionControlFastRetransmitOnThirdDuplicate(t *testing.T) {
	cc := NewCongestionControl(1000)

	cc.OnDuplicateAck()
	cc.OnDuplicateAck()
	triggered := cc.OnDuplicateAck()

	if !triggered {
		t.Fatal("third duplicate ACK should trigger fast retransmit")
	}
	// +1 three times in slow start then halved once: (1+1+1+1)/2 = 2
	if cc.CwndFactor() != 2 {
		t.Errorf("cwndFactor after fast retransmit = %v, want 2", cc.CwndFactor())
	}
}

func TestCongestionControlTimeoutResetsWindow(t *testing.T) {
	cc := NewCongestionControl(1000)
	cc.OnAck(1000)
	cc.OnAck(1000) // cwndFactor = 3

	cc.OnTimeout()

	if cc.CwndFactor() != 1 {
		t.Errorf("cwndFactor after timeout = %v, want 1", cc.CwndFactor())
	}
	if cc.State() != SlowStart {
		t.Errorf("state after timeout = %s, want SLOW_START", cc.State())
	}

	ssthresh, ok := cc.Ssthresh()
	if !ok {
		t.Fatal("ssthresh should be set after a timeout")
	}
	if ssthresh != 1500 {
		t.Errorf("ssthresh = %v, want 1500", ssthresh)
	}
}

func TestCongestionControlEntersCongestionAvoidance(t *testing.T) {
	cc := NewCongestionControl(1000)
	cc.OnTimeout() // ssthresh = 500, cwndFactor = 1

	cc.OnAck(1000) // cwndFactor = 2, window 2000 >= ssthresh 500 -> congestion avoidance

	if cc.State() != CongestionAvoidance {
		t.Errorf("state = %s, want CONGESTION_AVOIDANCE", cc.State())
	}
}

func TestRTTEstimatorConvergence(t *testing.T) {
	re := NewRTTEstimator()

	re.UpdateRTT(100 * time.Millisecond)
	if re.SRTT() != 100*time.Millisecond {
		t.Errorf("SRTT after first sample = %v, want 100ms", re.SRTT())
	}

	for i := 0; i < 50; i++ {
		re.UpdateRTT(100 * time.Millisecond)
	}

	if re.SRTT() < 95*time.Millisecond || re.SRTT() > 105*time.Millisecond {
		t.Errorf("SRTT did not converge near 100ms: %v", re.SRTT())
	}
}

func TestRTTEstimatorBackoff(t *testing.T) {
	re := NewRTTEstimator()
	re.UpdateRTT(100 * time.Millisecond)

	initial := re.RTO()
	re.BackoffRTO()

	if re.RTO() != 2*initial {
		t.Errorf("RTO after backoff = %v, want %v", re.RTO(), 2*initial)
	}
}
