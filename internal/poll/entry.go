// Package poll implements the Polling Engine and Poll Series List: a
// cooperative, state-driven scheduler that interleaves periodic OBD-II/UDS
// polls across buses and drives ISO-TP/VWTP transport.
package poll

import "github.com/anodyne74/candaemon/internal/isotp"

// Protocol selects which transport carries a Poll Entry's request/response.
type Protocol uint8

const (
	IsoTpStd Protocol = iota
	IsoTpExtAddr
	IsoTpExtFrame
	Vwtp20
)

// Variant returns the ISO-TP framing variant for protocols that use it; the
// bool is false for Vwtp20.
func (p Protocol) Variant() (isotp.Variant, bool) {
	switch p {
	case IsoTpStd:
		return isotp.Std, true
	case IsoTpExtAddr:
		return isotp.ExtAddr, true
	case IsoTpExtFrame:
		return isotp.ExtFrame, true
	default:
		return 0, false
	}
}

// MaxPayload bounds a Poll Entry's request payload.
const MaxPayload = isotp.MaxPayload

// State is the poll-state the vehicle layer drives.
type State uint8

const (
	StateOff State = iota
	StateAwake
	StateRunning
	StateCharging
)

// Entry is one Poll Entry (PID): `intervals[state]=0` means "never send in
// that state"; `intervals[state]=k` means "send when ticker % k == 0".
type Entry struct {
	Name      string
	TxID      uint32
	RxID      uint32
	Type      uint16
	PID       uint16
	Payload   []byte
	Intervals [4]uint16 // indexed by State
	BusIndex  int
	Protocol  Protocol
}

// Due reports whether this entry should fire at the given per-bus ticker
// value while in state s.
func (e Entry) Due(state State, ticker uint32) bool {
	k := e.Intervals[state]
	if k == 0 {
		return false
	}
	return ticker%uint32(k) == 0
}
