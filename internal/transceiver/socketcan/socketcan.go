// Package socketcan adapts a Linux SocketCAN interface (e.g. can0) into a
// canbus.Driver using brutella/can, the same SocketCAN client library the
// rest of the retrieved Go CAN tooling in this corpus builds on.
package socketcan

import (
	"fmt"
	"sync"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/brutella/can"
)

// Bus is a canbus.Driver backed by one SocketCAN network interface.
type Bus struct {
	busIndex int
	iface    string
	events   canbus.Events

	mu      sync.Mutex
	bus     *can.Bus
	running bool
	rx      []canframe.Frame
}

// New returns a driver for the named interface (e.g. "can0"). events
// receives RxAvailable/Error notifications from the read loop started by
// Start; it is typically a canbus.BusPort.
func New(busIndex int, iface string, events canbus.Events) *Bus {
	return &Bus{busIndex: busIndex, iface: iface, events: events}
}

// PowerOn is a no-op: SocketCAN interfaces are brought up externally (ip
// link set up) and this driver only binds an already-up interface.
func (b *Bus) PowerOn() error  { return nil }
func (b *Bus) PowerOff() error { return nil }

func (b *Bus) Start(mode canbus.Mode, speedKbps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("socketcan: %s already started", b.iface)
	}

	bus, err := can.NewBusForInterfaceWithName(b.iface)
	if err != nil {
		return fmt.Errorf("socketcan: open %s: %w", b.iface, err)
	}
	bus.SubscribeFunc(b.onFrame)

	b.bus = bus
	b.running = true
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			b.mu.Lock()
			stillRunning := b.running
			b.mu.Unlock()
			if stillRunning && b.events != nil {
				b.events.Error(b.busIndex)
			}
		}
	}()
	return nil
}

func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.running = false
	b.rx = nil
	bus := b.bus
	b.bus = nil
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

func (b *Bus) Transmit(frame canframe.Frame) (canbus.TransmitResult, error) {
	b.mu.Lock()
	bus := b.bus
	b.mu.Unlock()
	if bus == nil {
		return canbus.TransmitBusy, fmt.Errorf("socketcan: %s not started", b.iface)
	}

	var data [8]byte
	copy(data[:], frame.Payload())
	if err := bus.Publish(can.Frame{ID: frame.ID, Length: frame.DLC, Data: data}); err != nil {
		return canbus.TransmitBusy, fmt.Errorf("socketcan: publish %s: %w", b.iface, err)
	}
	return canbus.TransmitOK, nil
}

func (b *Bus) ReadFrame() (canframe.Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rx) == 0 {
		return canframe.Frame{}, false, nil
	}
	f := b.rx[0]
	b.rx = b.rx[1:]
	return f, true, nil
}

// onFrame is brutella/can's subscription callback, invoked on the bus's own
// read goroutine for every frame received on the interface.
func (b *Bus) onFrame(frame can.Frame) {
	format := canframe.Standard
	if frame.ID > 0x7FF {
		format = canframe.Extended
	}
	dlc := frame.Length
	if dlc > canframe.MaxDLC {
		dlc = canframe.MaxDLC
	}
	f := canframe.New(b.busIndex, frame.ID, format, frame.Data[:dlc])

	b.mu.Lock()
	b.rx = append(b.rx, f)
	b.mu.Unlock()
	if b.events != nil {
		b.events.RxAvailable(b.busIndex)
	}
}
