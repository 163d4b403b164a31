// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package congestion

import (
	"testing"
	"time"
)

func newTestController() *Controller {
	return New(Options{
		InitialWindow:   1024,
		MinWindow:       1024,
		MaxWindow:       65536,
		TimeoutEnabled:  true,
		DupAckEnabled:   true,
		DupAckThreshold: 3,
	})
}

func TestController_WindowBoundsAfterAdditiveIncrease(t *testing.T) {
	c := newTestController()
	now := time.Now()

	for i := 0; i < 200; i++ {
		c.NextSeq(now)
		c.HandleAck(uint32(i), now.Add(10*time.Millisecond))
		if w := c.Window(); w < c.minWindow || w > c.maxWindow {
			t.Fatalf("window out of bounds: %d", w)
		}
	}
}

func TestController_RTOBounds(t *testing.T) {
	c := newTestController()
	now := time.Now()

	c.NextSeq(now)
	c.HandleAck(0, now.Add(50*time.Millisecond))

	rto := c.RTO()
	if rto < time.Second || rto > 60*time.Second {
		t.Fatalf("rto out of bounds: %v", rto)
	}
}

func TestController_NewAckAdvancesWindowAndResetsDupCount(t *testing.T) {
	c := newTestController()
	now := time.Now()

	before := c.Window()
	c.NextSeq(now)
	res := c.HandleAck(0, now.Add(5*time.Millisecond))

	if !res.IsNew {
		t.Error("expected IsNew true for the first ACK")
	}
	if c.Window() <= before {
		t.Errorf("expected window to grow after new ACK: before=%d after=%d", before, c.Window())
	}
}

func TestController_TripleDuplicateAckTriggersFastRetransmit(t *testing.T) {
	c := newTestController()
	now := time.Now()

	c.NextSeq(now)
	c.HandleAck(0, now.Add(5*time.Millisecond)) // new ack, last_ack=0

	windowBeforeFR := c.Window()

	var lastResult AckResult
	for i := 0; i < 3; i++ {
		lastResult = c.HandleAck(0, now)
	}

	if !lastResult.TripleDup {
		t.Fatal("expected TripleDup after three duplicate ACKs")
	}
	if c.State() != FastRecovery {
		t.Errorf("expected FastRecovery state, got %v", c.State())
	}
	if c.Window() > windowBeforeFR/2+1 {
		t.Errorf("expected window to have halved, got %d from %d", c.Window(), windowBeforeFR)
	}
	if c.FastRetransmits != 1 {
		t.Errorf("FastRetransmits = %d, want 1", c.FastRetransmits)
	}
}

func TestController_LeavesFastRecoveryOnAckPastRecoverySeq(t *testing.T) {
	c := newTestController()
	now := time.Now()

	c.NextSeq(now)
	c.HandleAck(0, now.Add(5*time.Millisecond))
	for i := 0; i < 3; i++ {
		c.HandleAck(0, now)
	}
	if c.State() != FastRecovery {
		t.Fatal("setup: expected FastRecovery")
	}

	c.NextSeq(now)
	res := c.HandleAck(1, now.Add(5*time.Millisecond))

	if !res.LeftFastRecovery {
		t.Error("expected LeftFastRecovery true")
	}
	if c.State() != Running {
		t.Errorf("expected Running after leaving fast recovery, got %v", c.State())
	}
}

func TestController_TimeoutHalvesWindowAndRewindsCursor(t *testing.T) {
	c := newTestController()
	now := time.Now()

	c.NextSeq(now)
	c.HandleAck(0, now.Add(5*time.Millisecond))

	before := c.Window()
	resumeFrom := c.HandleTimeout()

	if resumeFrom != 1 {
		t.Errorf("resumeFrom = %d, want 1 (last_ack+1)", resumeFrom)
	}
	if c.Window() > before/2+1 || c.Window() < c.minWindow {
		t.Errorf("window after timeout = %d, before = %d", c.Window(), before)
	}
	if c.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", c.Timeouts)
	}
	if c.State() != TimeoutRecovery {
		t.Errorf("expected TimeoutRecovery state, got %v", c.State())
	}
}

func TestController_TimedOutSeqs_RespectsRTO(t *testing.T) {
	c := New(Options{InitialWindow: 1024, MinWindow: 1024, MaxWindow: 4096, TimeoutEnabled: true})
	now := time.Now()
	c.rto = 10 * time.Millisecond // force a short RTO for the test

	c.NextSeq(now)

	timedOut := c.TimedOutSeqs(now.Add(50 * time.Millisecond))
	if len(timedOut) != 1 || timedOut[0] != 0 {
		t.Errorf("expected seq 0 timed out, got %v", timedOut)
	}

	notTimedOut := c.TimedOutSeqs(now.Add(1 * time.Millisecond))
	if len(notTimedOut) != 0 {
		t.Errorf("expected no timeouts yet, got %v", notTimedOut)
	}
}

func TestController_TimedOutSeqs_DisabledReturnsNone(t *testing.T) {
	c := New(Options{InitialWindow: 1024, MinWindow: 1024, MaxWindow: 4096, TimeoutEnabled: false})
	now := time.Now()
	c.NextSeq(now)

	if got := c.TimedOutSeqs(now.Add(time.Minute)); len(got) != 0 {
		t.Errorf("expected no timeouts when disabled, got %v", got)
	}
}

func TestController_CanSend_RespectsWindow(t *testing.T) {
	c := New(Options{InitialWindow: 1024, MinWindow: 1024, MaxWindow: 4096})
	now := time.Now()

	chunkSize := 1024
	if !c.CanSend(chunkSize) {
		t.Fatal("expected CanSend true with empty in-flight window")
	}

	c.NextSeq(now) // 1 chunk allowed at window=1024/1024=1
	if c.CanSend(chunkSize) {
		t.Error("expected CanSend false once window is full")
	}
}

func TestController_DupAckDisabled_NeverTriggersFastRetransmit(t *testing.T) {
	c := New(Options{InitialWindow: 1024, MinWindow: 1024, MaxWindow: 4096, DupAckEnabled: false})
	now := time.Now()

	c.NextSeq(now)
	c.HandleAck(0, now.Add(time.Millisecond))

	for i := 0; i < 10; i++ {
		res := c.HandleAck(0, now)
		if res.TripleDup {
			t.Fatal("expected dup-ack detection disabled to never report TripleDup")
		}
	}
}
