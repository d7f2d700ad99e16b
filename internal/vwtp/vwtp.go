// Package vwtp implements the VW Transport Protocol 2.0 channel state
// machine: a channel-oriented alternative to ISO-TP used by some VW-group
// modules.
package vwtp

import "time"

// State is one point in the channel lifecycle.
type State uint8

const (
	Closed State = iota
	ChannelSetup
	ChannelParams
	Idle
	StartPoll
	Transmit
	Receive
	AbortXfer
	ChannelClose
)

func (s State) String() string {
	switch s {
	case ChannelSetup:
		return "channel_setup"
	case ChannelParams:
		return "channel_params"
	case Idle:
		return "idle"
	case StartPoll:
		return "start_poll"
	case Transmit:
		return "transmit"
	case Receive:
		return "receive"
	case AbortXfer:
		return "abort_xfer"
	case ChannelClose:
		return "channel_close"
	default:
		return "closed"
	}
}

// DefaultKeepAlive is the inactivity timeout that closes an idle channel;
// 0 disables keep-alive entirely.
const DefaultKeepAlive = 60 * time.Second

// Channel is the per-bus/peer VWTP 2.0 session: identifiers, timing
// parameters, and 4-bit wraparound sequence numbers, plus the state machine
// itself.
type Channel struct {
	BaseID         uint32
	LogicalModule  uint32
	TxID           uint32
	RxID           uint32
	BlockSize      byte
	AckTimeMs      int // negotiated but not currently enforced
	SeparationTime time.Duration
	KeepAlive      time.Duration

	state      State
	txSeq      int
	rxSeq      int
	lastActive time.Time
}

// NewChannel builds a channel in the Closed state with the default
// keep-alive.
func NewChannel(baseID, logicalModule, txID, rxID uint32) *Channel {
	return &Channel{
		BaseID:        baseID,
		LogicalModule: logicalModule,
		TxID:          txID,
		RxID:          rxID,
		KeepAlive:     DefaultKeepAlive,
		state:         Closed,
	}
}

func (c *Channel) State() State { return c.state }

// Setup moves Closed -> ChannelSetup, the first step of the three-step
// handshake before any polling can start; ParamsReceived and Ready then
// carry it on to ChannelParams and Idle.
func (c *Channel) Setup(now time.Time) {
	c.state = ChannelSetup
	c.lastActive = now
}

// ParamsReceived advances ChannelSetup -> ChannelParams once the peer's
// parameter frame has been parsed into BlockSize/SeparationTime.
func (c *Channel) ParamsReceived(blockSize byte, sep time.Duration, now time.Time) {
	if c.state != ChannelSetup {
		return
	}
	c.BlockSize = blockSize
	c.SeparationTime = sep
	c.state = ChannelParams
	c.lastActive = now
}

// Ready advances ChannelParams -> Idle once parameter negotiation completes.
func (c *Channel) Ready(now time.Time) {
	if c.state != ChannelParams {
		return
	}
	c.state = Idle
	c.lastActive = now
}

// BeginPoll advances Idle -> StartPoll, the entry to sending a request on
// this channel; Transmitting then moves it on to Transmit.
func (c *Channel) BeginPoll(now time.Time) bool {
	if c.state != Idle {
		return false
	}
	c.state = StartPoll
	c.lastActive = now
	return true
}

// Transmitting moves StartPoll -> Transmit, recording the outgoing 4-bit
// sequence number and advancing it with wraparound.
func (c *Channel) Transmitting(now time.Time) int {
	if c.state != StartPoll {
		return -1
	}
	c.state = Transmit
	seq := c.txSeq
	c.txSeq = (c.txSeq + 1) % 16
	c.lastActive = now
	return seq
}

// AwaitResponse moves Transmit -> Receive once the request has gone out.
func (c *Channel) AwaitResponse(now time.Time) {
	if c.state != Transmit {
		return
	}
	c.state = Receive
	c.lastActive = now
}

// ResponseReceived validates the 4-bit wraparound RX sequence and moves
// Receive -> Idle on success.
func (c *Channel) ResponseReceived(seq int, now time.Time) bool {
	if c.state != Receive {
		return false
	}
	if seq != c.rxSeq%16 {
		c.state = AbortXfer
		return false
	}
	c.rxSeq = (c.rxSeq + 1) % 16
	c.state = Idle
	c.lastActive = now
	return true
}

// Abort transitions to AbortXfer from any in-flight state, then Idle once
// the abort has been handled.
func (c *Channel) Abort(now time.Time) {
	c.state = AbortXfer
	c.lastActive = now
}

// Recover moves AbortXfer back to Idle so a subsequent poll can proceed.
func (c *Channel) Recover(now time.Time) {
	if c.state != AbortXfer {
		return
	}
	c.state = Idle
	c.lastActive = now
}

// CheckKeepAlive closes the channel (-> ChannelClose -> Closed) if it has
// been idle longer than KeepAlive. A KeepAlive of 0 disables the check. Any
// activity (Setup/BeginPoll/ResponseReceived/...) refreshes lastActive, so
// calling this periodically is sufficient to enforce the timeout.
func (c *Channel) CheckKeepAlive(now time.Time) bool {
	if c.KeepAlive <= 0 || c.state == Closed {
		return false
	}
	if now.Sub(c.lastActive) < c.KeepAlive {
		return false
	}
	c.state = ChannelClose
	c.state = Closed
	return true
}

// Touch refreshes the inactivity clock without changing state (used for any
// channel traffic, e.g. channel-params frames, that is not itself a state
// transition recorded above).
func (c *Channel) Touch(now time.Time) { c.lastActive = now }
