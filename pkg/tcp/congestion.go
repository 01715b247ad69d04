package tcp

import (
	"time"
)

// CongestionState represents the congestion control phase. There is no
// fast-recovery phase here: a fast retransmit halves cwndFactor and drops
// straight back into whichever phase growth puts it in next, rather than
// holding a dedicated recovery state as RFC 5681 does.
type CongestionState int

const (
	// SlowStart is the exponential growth phase.
	SlowStart CongestionState = iota

	// CongestionAvoidance is the linear growth phase.
	CongestionAvoidance
)

// String returns the human-readable name of the congestion state.
func (cs CongestionState) String() string {
	switch cs {
	case SlowStart:
		return "SLOW_START"
	case CongestionAvoidance:
		return "CONGESTION_AVOIDANCE"
	default:
		return "UNKNOWN"
	}
}

// CongestionControl tracks the sender's congestion window as a multiplicative
// factor of a fixed segment size, rather than the additive byte-counted cwnd
// of RFC 5681. The window in bytes is always cwndFactor * mss; only the
// factor moves.
type CongestionControl struct {
	mss uint16

	cwndFactor float64
	ssthresh   *float64 // unset until the first timeout
	state      CongestionState

	dupAckCount int
}

// NewCongestionControl creates a congestion controller starting in slow
// start with a window of exactly one segment.
func NewCongestionControl(mss uint16) *CongestionControl {
	return &CongestionControl{
		mss:        mss,
		cwndFactor: 1,
		state:      SlowStart,
	}
}

// Window returns the current congestion window in bytes.
func (cc *CongestionControl) Window() uint32 {
	return uint32(cc.cwndFactor * float64(cc.mss))
}

// CwndFactor returns the raw multiplicative factor.
func (cc *CongestionControl) CwndFactor() float64 {
	return cc.cwndFactor
}

// Ssthresh returns the slow-start threshold in bytes and whether it has been
// set yet; only a retransmission timeout establishes one.
func (cc *CongestionControl) Ssthresh() (float64, bool) {
	if cc.ssthresh == nil {
		return 0, false
	}
	return *cc.ssthresh, true
}

// State returns the current congestion phase.
func (cc *CongestionControl) State() CongestionState {
	return cc.state
}

// OnAck advances the window on a new (non-duplicate) acknowledgment that
// covered ackedBytes bytes of previously-unacknowledged data. In slow start
// the window grows by the fraction of a segment just acked
// (ackedBytes/mss); in congestion avoidance it grows by one segment's worth
// spread across the current window, an additive approximation of per-RTT
// growth rather than textbook per-RTT doubling.
func (cc *CongestionControl) OnAck(ackedBytes uint32) {
	switch cc.state {
	case SlowStart:
		cc.cwndFactor += float64(ackedBytes) / float64(cc.mss)
		if cc.ssthresh != nil && cc.cwndFactor*float64(cc.mss) >= *cc.ssthresh {
			cc.state = CongestionAvoidance
		}
	case CongestionAvoidance:
		cc.cwndFactor += float64(cc.mss) / (cc.cwndFactor * float64(cc.mss))
	}
	cc.dupAckCount = 0
}

// OnDuplicateAck handles a duplicate ACK. The window grows on every
// duplicate ACK, not only at the triple-dup fast-retransmit trigger: a
// duplicate still means a segment left the network, so the growth is more
// aggressive than Reno, which inflates only during fast recovery. It
// returns true when the third consecutive duplicate should trigger a fast
// retransmit.
func (cc *CongestionControl) OnDuplicateAck() bool {
	cc.dupAckCount++
	switch cc.state {
	case SlowStart:
		cc.cwndFactor += 1
	case CongestionAvoidance:
		cc.cwndFactor += float64(cc.mss) / (cc.cwndFactor * float64(cc.mss))
	}

	if cc.dupAckCount == 3 {
		cc.cwndFactor /= 2
		return true
	}
	return false
}

// OnTimeout resets the window after a retransmission timeout: ssthresh is
// set to half the window in flight at the time of the timeout, cwndFactor
// resets to 1, and the controller re-enters slow start.
func (cc *CongestionControl) OnTimeout() {
	half := (cc.cwndFactor * float64(cc.mss)) / 2
	cc.ssthresh = &half
	cc.cwndFactor = 1
	cc.state = SlowStart
	cc.dupAckCount = 0
}

// RTTEstimator tracks the smoothed round-trip time and derives a
// retransmission timeout from it, following the classic Jacobson/Karels
// EWMA: srtt = 0.875*srtt + 0.125*sample, rttvar = 0.75*rttvar +
// 0.25*|sample-srtt|, rto = srtt + 4*rttvar.
type RTTEstimator struct {
	srtt   time.Duration // estimated RTT
	rttvar time.Duration // deviation

	alpha float64
	beta  float64

	minRTO time.Duration
	maxRTO time.Duration

	rto time.Duration
}

// NewRTTEstimator creates an estimator with the conventional 1-second
// starting timeout, used until the first real sample arrives.
func NewRTTEstimator() *RTTEstimator {
	return &RTTEstimator{
		alpha:  0.125,
		beta:   0.25,
		rto:    time.Second,
		minRTO: 200 * time.Millisecond,
		maxRTO: 60 * time.Second,
	}
}

// UpdateRTT folds a new round-trip measurement into the estimate and
// recomputes the timeout.
func (re *RTTEstimator) UpdateRTT(measuredRTT time.Duration) {
	if re.srtt == 0 {
		re.srtt = measuredRTT
		re.rttvar = measuredRTT / 2
	} else {
		diff := re.srtt - measuredRTT
		if diff < 0 {
			diff = -diff
		}
		re.rttvar = time.Duration(float64(re.rttvar)*(1-re.beta) + float64(diff)*re.beta)
		re.srtt = time.Duration(float64(re.srtt)*(1-re.alpha) + float64(measuredRTT)*re.alpha)
	}

	re.rto = re.srtt + 4*re.rttvar
	if re.rto < re.minRTO {
		re.rto = re.minRTO
	}
	if re.rto > re.maxRTO {
		re.rto = re.maxRTO
	}
}

// RTO returns the current retransmission timeout.
func (re *RTTEstimator) RTO() time.Duration {
	return re.rto
}

// BackoffRTO doubles the timeout, used for successive retransmits of the
// same segment without a fresh sample to estimate from.
func (re *RTTEstimator) BackoffRTO() {
	re.rto *= 2
	if re.rto > re.maxRTO {
		re.rto = re.maxRTO
	}
}

// SRTT returns the smoothed RTT estimate.
func (re *RTTEstimator) SRTT() time.Duration {
	return re.srtt
}
