// Package simulator is a software CAN bus double implementing
// internal/canbus.Driver: it plugs into the same Bus Port/Router stack a
// real transceiver does, so the core's own integration tests drive it
// without ever opening a socket or serial port. It can answer requests with
// synthesized OBD-II/UDS replies (see Responder) or replay a recorded
// capture session frame-for-frame (see PlaySession).
package simulator

import (
	"fmt"
	"sync"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canframe"
)

// Responder inspects a frame the core just transmitted and returns zero or
// more frames to deliver back as the simulated bus's response. Returning nil
// models "no reply" (e.g. an unrecognised request, same as a silent ECU).
type Responder func(tx canframe.Frame) []canframe.Frame

// Bus is an in-memory canbus.Driver. Transmit hands the frame to Responder
// (if set) and queues whatever it returns for the next ReadFrame; InjectFrames
// queues frames directly, bypassing the request/response path entirely.
type Bus struct {
	index  int
	events canbus.Events
	resp   Responder

	mu      sync.Mutex
	started bool
	rx      []canframe.Frame
}

// New creates a simulated bus at the given Bus Port index. resp may be nil,
// in which case Transmit never produces a reply on its own (useful when the
// test drives everything through InjectFrames/PlaySession instead).
func New(index int, events canbus.Events, resp Responder) *Bus {
	return &Bus{index: index, events: events, resp: resp}
}

func (b *Bus) PowerOn() error  { return nil }
func (b *Bus) PowerOff() error { return nil }

func (b *Bus) Start(mode canbus.Mode, speedKbps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	b.rx = nil
	return nil
}

func (b *Bus) Transmit(frame canframe.Frame) (canbus.TransmitResult, error) {
	b.mu.Lock()
	started := b.started
	resp := b.resp
	b.mu.Unlock()
	if !started {
		return canbus.TransmitBusy, fmt.Errorf("simulator: bus %d not started", b.index)
	}
	if resp == nil {
		return canbus.TransmitOK, nil
	}
	replies := resp(frame)
	if len(replies) > 0 {
		b.InjectFrames(replies...)
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

// InjectFrames appends frames to the bus's receive queue and signals
// rx_available, as if they had just arrived on the wire.
func (b *Bus) InjectFrames(frames ...canframe.Frame) {
	b.mu.Lock()
	b.rx = append(b.rx, frames...)
	b.mu.Unlock()
	if b.events != nil {
		b.events.RxAvailable(b.index)
	}
}
