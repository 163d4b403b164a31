// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package congestion implements the AIMD sliding-window congestion
// controller: Jacobson/Karels RTT/RTO estimation, additive-increase /
// multiplicative-decrease window update, and triple-duplicate-ACK
// fast-retransmit with timeout-based retransmit as a fallback. It is the
// centerpiece of the AIMD transfer strategy.
package congestion

import (
	"sync"
	"time"
)

// SenderState is the AIMD sender's state machine position.
type SenderState int

const (
	Running SenderState = iota
	FastRecovery
	TimeoutRecovery
	Done
)

func (s SenderState) String() string {
	switch s {
	case Running:
		return "running"
	case FastRecovery:
		return "fast_recovery"
	case TimeoutRecovery:
		return "timeout_recovery"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	minRTO                = time.Second
	maxRTO                = 60 * time.Second
	additiveIncreaseBytes = 1024
	rttAlpha              = 1.0 / 8.0
	rttBeta               = 1.0 / 4.0
)

// Options configures a new Controller. A DupAckThreshold of 0 defaults to 3.
type Options struct {
	InitialWindow   int
	MinWindow       int
	MaxWindow       int
	TimeoutEnabled  bool
	DupAckEnabled   bool
	DupAckThreshold int
}

// Controller owns the congestion-window state for one AIMD transfer. All
// public methods acquire the internal mutex; lock hold times are short and
// never cover I/O, mirroring the teacher's dispatcher lock discipline.
type Controller struct {
	mu sync.Mutex

	window    int
	minWindow int
	maxWindow int

	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	hasSample bool

	dupAckEnabled   bool
	dupAckThreshold int
	dupAckCount     int
	lastDupAckSeq   uint32 // the last_ack value the duplicate run is counting

	timeoutEnabled bool

	nextSeq          uint32
	lastAck          int64 // -1 means no ACKs yet
	hasAck           bool
	inFlight         map[uint32]time.Time
	inFastRecovery   bool
	lastRecoverySeq  uint32
	state            SenderState

	Timeouts         int
	FastRetransmits  int
	TotalRetransmits int
}

// New creates a Controller. Zero MinWindow/MaxWindow/InitialWindow fall
// back to the spec defaults (1 KiB / 64 KiB / 1 KiB).
func New(opts Options) *Controller {
	minW := opts.MinWindow
	if minW <= 0 {
		minW = 1024
	}
	maxW := opts.MaxWindow
	if maxW <= 0 {
		maxW = 64 * 1024
	}
	initW := opts.InitialWindow
	if initW <= 0 {
		initW = minW
	}
	if initW < minW {
		initW = minW
	}
	if initW > maxW {
		initW = maxW
	}
	threshold := opts.DupAckThreshold
	if threshold <= 0 {
		threshold = 3
	}

	return &Controller{
		window:          initW,
		minWindow:       minW,
		maxWindow:       maxW,
		rto:             minRTO,
		dupAckEnabled:   opts.DupAckEnabled,
		dupAckThreshold: threshold,
		timeoutEnabled:  opts.TimeoutEnabled,
		inFlight:        make(map[uint32]time.Time),
		state:           Running,
	}
}

// Window returns the current congestion window in bytes.
func (c *Controller) Window() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// RTO returns the current retransmission timeout.
func (c *Controller) RTO() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rto
}

// State returns the sender's current state machine position.
func (c *Controller) State() SenderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkDone transitions the controller to Done, called once the full file
// has been acknowledged and EOT sent.
func (c *Controller) MarkDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Done
}

// NextSeq allocates and returns the next sequence number, marking it
// in-flight at sendTime. Every seq < NextSeq() is tracked in in_flight
// until acknowledged, per the in-flight invariant.
func (c *Controller) NextSeq(sendTime time.Time) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.nextSeq
	c.inFlight[seq] = sendTime
	c.nextSeq++
	return seq
}

// CanSend reports whether the sender may emit another chunk given
// chunkSize, per window/chunkSize in-flight chunks allowed (at least 1).
func (c *Controller) CanSend(chunkSize int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunksAllowed := c.window / chunkSize
	if chunksAllowed < 1 {
		chunksAllowed = 1
	}

	lastAck := int64(-1)
	if c.hasAck {
		lastAck = c.lastAck
	}
	inFlightCount := int64(c.nextSeq) - (lastAck + 1)
	return inFlightCount < int64(chunksAllowed)
}

// AckResult reports what an incoming ACK implied.
type AckResult struct {
	IsNew        bool
	TripleDup    bool
	LeftFastRecovery bool
}

// HandleAck processes an incoming ACK for ackSeq observed at now. A
// strictly-greater-than-prior ACK is a new ACK: it samples RTT (if the seq
// is still tracked in-flight), triggers additive increase, and may exit
// fast recovery. A repeated ACK equal to the prior last_ack increments the
// duplicate counter and may trigger fast retransmit at the threshold.
func (c *Controller) HandleAck(ackSeq uint32, now time.Time) AckResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result AckResult

	isNew := !c.hasAck || int64(ackSeq) > c.lastAck
	if isNew {
		if sendTime, ok := c.inFlight[ackSeq]; ok {
			c.sampleRTTLocked(now.Sub(sendTime))
		}
		// Every seq <= ackSeq is now acknowledged; drop them from in_flight.
		for seq := range c.inFlight {
			if int64(seq) <= int64(ackSeq) {
				delete(c.inFlight, seq)
			}
		}

		c.lastAck = int64(ackSeq)
		c.hasAck = true
		c.dupAckCount = 0
		result.IsNew = true

		c.window += additiveIncreaseBytes
		if c.window > c.maxWindow {
			c.window = c.maxWindow
		}

		if c.inFastRecovery && int64(ackSeq) > int64(c.lastRecoverySeq) {
			c.inFastRecovery = false
			result.LeftFastRecovery = true
			if c.state == FastRecovery {
				c.state = Running
			}
		}
		if c.state == TimeoutRecovery {
			c.state = Running
		}
		return result
	}

	// Duplicate ACK: same value as the current last_ack.
	if !c.dupAckEnabled || !c.hasAck || int64(ackSeq) != c.lastAck {
		return result
	}

	c.dupAckCount++
	if c.dupAckCount >= c.dupAckThreshold {
		c.dupAckCount = 0
		result.TripleDup = true
		c.triggerFastRetransmitLocked(ackSeq)
	}
	return result
}

func (c *Controller) triggerFastRetransmitLocked(ackSeq uint32) {
	c.window = c.window / 2
	if c.window < c.minWindow {
		c.window = c.minWindow
	}
	c.FastRetransmits++
	c.TotalRetransmits++
	c.inFastRecovery = true
	c.lastRecoverySeq = ackSeq
	c.state = FastRecovery

	// Resend from ack_seq + 1: rewind next_seq and clear in-flight entries
	// beyond the acknowledged point.
	c.nextSeq = ackSeq + 1
	for seq := range c.inFlight {
		if seq > ackSeq {
			delete(c.inFlight, seq)
		}
	}
}

// TimedOutSeqs returns the in-flight sequence numbers whose RTO has
// expired as of now, without mutating controller state — callers use this
// to decide whether to invoke HandleTimeout.
func (c *Controller) TimedOutSeqs(now time.Time) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.timeoutEnabled {
		return nil
	}

	var timedOut []uint32
	for seq, sentAt := range c.inFlight {
		if now.Sub(sentAt) > c.rto {
			timedOut = append(timedOut, seq)
		}
	}
	return timedOut
}

// HandleTimeout applies the multiplicative-decrease policy for a timeout
// event and rewinds the send cursor to last_ack+1 (0 when nothing has been
// acknowledged) so retransmission resumes from the first unacknowledged
// chunk, clearing in-flight entries from that point on. Returns the
// sequence number retransmission resumes from.
func (c *Controller) HandleTimeout() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window = c.window / 2
	if c.window < c.minWindow {
		c.window = c.minWindow
	}
	c.Timeouts++
	c.TotalRetransmits++
	c.state = TimeoutRecovery

	var resumeFrom uint32
	if c.hasAck {
		resumeFrom = uint32(c.lastAck) + 1
	} else {
		resumeFrom = 0
	}
	c.nextSeq = resumeFrom

	for seq := range c.inFlight {
		if seq >= resumeFrom {
			delete(c.inFlight, seq)
		}
	}
	return resumeFrom
}

// sampleRTTLocked applies the Jacobson/Karels RTT/RTO estimator. Caller
// must hold c.mu.
func (c *Controller) sampleRTTLocked(sample time.Duration) {
	if !c.hasSample {
		c.srtt = sample
		c.rttvar = sample / 2
		c.hasSample = true
	} else {
		diff := c.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		c.rttvar = time.Duration((1-rttBeta)*float64(c.rttvar) + rttBeta*float64(diff))
		c.srtt = time.Duration((1-rttAlpha)*float64(c.srtt) + rttAlpha*float64(sample))
	}

	rto := c.srtt + 4*c.rttvar
	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	c.rto = rto
}

// SRTT returns the current smoothed RTT estimate.
func (c *Controller) SRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srtt
}

// LastAck returns the current last_ack value and whether any ACK has been
// received yet.
func (c *Controller) LastAck() (seq uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasAck {
		return 0, false
	}
	return uint32(c.lastAck), true
}
