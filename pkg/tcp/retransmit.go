package tcp

import (
	"container/heap"
	"sync"
	"time"
)

// pendingAck is a segment sent but not yet acknowledged, along with the
// deadline at which it should be retransmitted if no ACK arrives.
type pendingAck struct {
	SeqNum     uint32
	Segment    *Segment
	SentAt     time.Time
	Deadline   time.Time
	RetryCount int

	index int // heap.Interface bookkeeping
}

// pendingAckHeap is a min-heap of pendingAck ordered by Deadline, letting a
// single timer goroutine watch the single nearest deadline instead of
// running one time.Timer per in-flight segment, the "timer storm" that a
// naive per-segment timer design produces under a large window.
type pendingAckHeap []*pendingAck

func (h pendingAckHeap) Len() int            { return len(h) }
func (h pendingAckHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h pendingAckHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *pendingAckHeap) Push(x interface{}) {
	entry := x.(*pendingAck)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *pendingAckHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// RetransmitQueue is the pending-ACK table: segments sent by the sender that
// are awaiting acknowledgment, ordered so the single retransmit timer can
// always find the next deadline in O(log n).
type RetransmitQueue struct {
	mu      sync.Mutex
	entries pendingAckHeap
	bySeq   map[uint32]*pendingAck
}

// NewRetransmitQueue creates an empty pending-ACK table.
func NewRetransmitQueue() *RetransmitQueue {
	return &RetransmitQueue{
		bySeq: make(map[uint32]*pendingAck),
	}
}

// Add registers a freshly sent segment with the deadline it should be
// retransmitted at if unacknowledged.
func (rq *RetransmitQueue) Add(seqNum uint32, seg *Segment, deadline time.Time) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	entry := &pendingAck{SeqNum: seqNum, Segment: seg, SentAt: time.Now(), Deadline: deadline}
	heap.Push(&rq.entries, entry)
	rq.bySeq[seqNum] = entry
}

// Remove drops the entry for seqNum, typically because it was acknowledged.
func (rq *RetransmitQueue) Remove(seqNum uint32) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	entry, ok := rq.bySeq[seqNum]
	if !ok {
		return
	}
	heap.Remove(&rq.entries, entry.index)
	delete(rq.bySeq, seqNum)
}

// RemoveBefore drops every entry whose sequence number strictly precedes
// seqNum, i.e. everything a cumulative ACK of seqNum has now covered (a
// segment starting exactly at seqNum is still outstanding), and returns the
// removed entries so the caller can fold their send times into the RTT
// estimator.
func (rq *RetransmitQueue) RemoveBefore(seqNum uint32) []*pendingAck {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	var removed []*pendingAck
	for s := range rq.bySeq {
		if seqBefore(s, seqNum) {
			entry := rq.bySeq[s]
			heap.Remove(&rq.entries, entry.index)
			delete(rq.bySeq, s)
			removed = append(removed, entry)
		}
	}
	return removed
}

// NextDeadline returns the earliest pending deadline and whether the queue
// is non-empty. The single retransmit timer goroutine uses this to know how
// long to sleep.
func (rq *RetransmitQueue) NextDeadline() (time.Time, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if len(rq.entries) == 0 {
		return time.Time{}, false
	}
	return rq.entries[0].Deadline, true
}

// PopExpired returns every entry whose deadline is at or before now, bumping
// each one's retry count and rescheduling it at newDeadline (the entries stay
// in the queue) so the caller's single timer goroutine can fold "pop the due
// ones" and "reschedule them" into one critical section.
func (rq *RetransmitQueue) PopExpired(now time.Time, newDeadline time.Time) []*pendingAck {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	var expired []*pendingAck
	for len(rq.entries) > 0 && !rq.entries[0].Deadline.After(now) {
		entry := heap.Pop(&rq.entries).(*pendingAck)
		entry.RetryCount++
		entry.Deadline = newDeadline
		heap.Push(&rq.entries, entry)
		expired = append(expired, entry)
	}
	return expired
}

// Oldest returns the segment with the smallest outstanding sequence number,
// i.e. the one at the base of the send window. The heap is ordered by
// deadline, not sequence, so this scans the index.
func (rq *RetransmitQueue) Oldest() *Segment {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	var oldest *pendingAck
	for _, entry := range rq.bySeq {
		if oldest == nil || seqBefore(entry.SeqNum, oldest.SeqNum) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil
	}
	return oldest.Segment
}

// Len returns the number of outstanding unacknowledged segments.
func (rq *RetransmitQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.entries)
}

// Clear empties the queue, used on connection teardown.
func (rq *RetransmitQueue) Clear() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.entries = rq.entries[:0]
	rq.bySeq = make(map[uint32]*pendingAck)
}

// seqBefore returns true if seq1 precedes seq2, with wraparound handled via
// signed subtraction.
func seqBefore(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) < 0
}

// seqAfter returns true if seq1 follows seq2, with wraparound handled via
// signed subtraction.
func seqAfter(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) > 0
}
