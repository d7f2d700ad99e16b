package canbus

import "github.com/anodyne74/candaemon/internal/canframe"

// Mode is a Bus Port's operating mode.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeListen
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModeListen:
		return "listen"
	case ModeActive:
		return "active"
	default:
		return "off"
	}
}

// TransmitResult is the outcome of a driver-level transmit attempt.
type TransmitResult uint8

const (
	TransmitOK TransmitResult = iota
	TransmitBusy
)

// Driver is the downward interface to a CAN link-layer transceiver. The
// core assumes an underlying transceiver that can TX/RX 11/29-bit frames
// and signal completion; it does not implement link-layer drivers itself.
// Concrete adapters (SocketCAN, serial/ELM327) live under internal/transceiver.
type Driver interface {
	PowerOn() error
	PowerOff() error
	Start(mode Mode, speedKbps int) error
	Stop() error
	Transmit(frame canframe.Frame) (TransmitResult, error)

	// ReadFrame pulls the next already-available received frame. Called by
	// the Bus Port only after the driver's asynchronous RxAvailable callback
	// fires; ok is false if nothing is left to read (spurious wake).
	ReadFrame() (frame canframe.Frame, ok bool, err error)
}

// Events is how a Driver reports asynchronous completion back into the
// core: rx_available/tx_complete/error. Implementations must not call user
// callbacks directly, only enqueue into the Frame Router's dispatch queue,
// which BusPort satisfies.
type Events interface {
	RxAvailable(bus int)
	TxComplete(bus int)
	Error(bus int)
}

// VehicleOnSignal is the external collaborator the watchdog consults to know
// whether the vehicle is currently on. Vehicle-specific logic lives outside
// the core; this is its narrow seam in.
type VehicleOnSignal interface {
	VehicleOn(bus int) bool
}
