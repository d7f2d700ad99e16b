package vwtp

import (
	"testing"
	"time"
)

func TestChannelHandshakeToIdle(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	now := time.Now()

	c.Setup(now)
	if c.State() != ChannelSetup {
		t.Fatalf("state = %v, want channel_setup", c.State())
	}

	c.ParamsReceived(8, 25*time.Millisecond, now)
	if c.State() != ChannelParams {
		t.Fatalf("state = %v, want channel_params", c.State())
	}

	c.Ready(now)
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestChannelPollRoundTrip(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	now := time.Now()
	c.Setup(now)
	c.ParamsReceived(8, 0, now)
	c.Ready(now)

	if !c.BeginPoll(now) {
		t.Fatalf("BeginPoll should succeed from Idle")
	}
	seq := c.Transmitting(now)
	if seq != 0 {
		t.Fatalf("first tx seq = %d, want 0", seq)
	}
	c.AwaitResponse(now)
	if c.State() != Receive {
		t.Fatalf("state = %v, want receive", c.State())
	}
	if !c.ResponseReceived(0, now) {
		t.Fatalf("ResponseReceived(0) should succeed")
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle after response", c.State())
	}
}

func TestChannelTxSeqWraparound(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	now := time.Now()
	c.Setup(now)
	c.ParamsReceived(0, 0, now)
	c.Ready(now)

	var last int
	for i := 0; i < 17; i++ {
		c.BeginPoll(now)
		last = c.Transmitting(now)
		c.AwaitResponse(now)
		c.ResponseReceived(last, now)
	}
	if last != 0 {
		t.Fatalf("after 17 polls, seq should have wrapped back to 0, got %d", last)
	}
}

func TestResponseBadSequenceAborts(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	now := time.Now()
	c.Setup(now)
	c.ParamsReceived(0, 0, now)
	c.Ready(now)
	c.BeginPoll(now)
	c.Transmitting(now)
	c.AwaitResponse(now)

	if c.ResponseReceived(5, now) {
		t.Fatalf("expected bad-sequence response to fail")
	}
	if c.State() != AbortXfer {
		t.Fatalf("state = %v, want abort_xfer", c.State())
	}
	c.Recover(now)
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle after recover", c.State())
	}
}

func TestKeepAliveClosesAfterInactivity(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	c.KeepAlive = 10 * time.Millisecond
	now := time.Now()
	c.Setup(now)
	c.ParamsReceived(0, 0, now)
	c.Ready(now)

	if c.CheckKeepAlive(now.Add(5 * time.Millisecond)) {
		t.Fatalf("keep-alive should not fire before the timeout")
	}
	if !c.CheckKeepAlive(now.Add(20 * time.Millisecond)) {
		t.Fatalf("keep-alive should fire after the timeout")
	}
	if c.State() != Closed {
		t.Fatalf("state = %v, want closed", c.State())
	}
}

func TestKeepAliveDisabledWhenZero(t *testing.T) {
	c := NewChannel(0x200, 1, 0x201, 0x281)
	c.KeepAlive = 0
	now := time.Now()
	c.Setup(now)
	if c.CheckKeepAlive(now.Add(time.Hour)) {
		t.Fatalf("KeepAlive=0 must disable the check")
	}
}
