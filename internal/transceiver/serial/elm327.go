// Package serial adapts an ELM327-style USB/Bluetooth OBD dongle into a
// canbus.Driver over a tarm/serial port, for buses reached without a native
// SocketCAN interface. It follows the port-open pattern from the simulator's
// SerialWriter (serial.Config{Name, Baud} + serial.OpenPort) but speaks the
// ELM327 AT command set rather than writing raw bytes.
package serial

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/tarm/serial"
)

// Dongle is a canbus.Driver backed by one ELM327-compatible adapter.
type Dongle struct {
	busIndex int
	portName string
	baud     int

	events canbus.Events

	mu      sync.Mutex
	port    *serial.Port
	reader  *bufio.Reader
	lastHdr uint32
	rx      []canframe.Frame
	closed  bool
}

func New(busIndex int, portName string, baud int, events canbus.Events) *Dongle {
	if baud == 0 {
		baud = 38400
	}
	return &Dongle{busIndex: busIndex, portName: portName, baud: baud, events: events}
}

func (d *Dongle) PowerOn() error  { return nil }
func (d *Dongle) PowerOff() error { return nil }

// Start opens the serial port and runs the ELM327 reset/configure sequence:
// echo and linefeeds off, CAN protocol selected by speedKbps (11-bit 500k
// by default; 11-bit 250k when speedKbps is below 500).
func (d *Dongle) Start(mode canbus.Mode, speedKbps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return fmt.Errorf("serial: %s already started", d.portName)
	}

	port, err := serial.OpenPort(&serial.Config{Name: d.portName, Baud: d.baud, ReadTimeout: time.Second})
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", d.portName, err)
	}
	d.port = port
	d.reader = bufio.NewReader(port)
	d.closed = false

	proto := "6" // ISO 15765-4 CAN (11 bit ID, 500 kbps)
	if speedKbps != 0 && speedKbps < 500 {
		proto = "7" // ISO 15765-4 CAN (11 bit ID, 250 kbps)
	}
	for _, cmd := range []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH1", "ATSP" + proto} {
		if _, err := d.sendCommandLocked(cmd); err != nil {
			port.Close()
			d.port = nil
			return fmt.Errorf("serial: init %q: %w", cmd, err)
		}
	}
	return nil
}

func (d *Dongle) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	d.closed = true
	err := d.port.Close()
	d.port = nil
	d.rx = nil
	return err
}

// Transmit sets the header via ATSH (only when it changes) and writes the
// payload as a hex string; ELM327 appends the trailing '>' prompt rather
// than an asynchronous notification, so RxAvailable is fired inline once a
// reply line is parsed.
func (d *Dongle) Transmit(frame canframe.Frame) (canbus.TransmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return canbus.TransmitBusy, fmt.Errorf("serial: %s not started", d.portName)
	}

	if frame.ID != d.lastHdr {
		if _, err := d.sendCommandLocked(fmt.Sprintf("ATSH%03X", frame.ID)); err != nil {
			return canbus.TransmitBusy, err
		}
		d.lastHdr = frame.ID
	}

	var sb strings.Builder
	for _, b := range frame.Payload() {
		fmt.Fprintf(&sb, "%02X", b)
	}
	lines, err := d.sendCommandLocked(sb.String())
	if err != nil {
		return canbus.TransmitBusy, err
	}

	for _, line := range lines {
		if f, ok := parseResponseLine(d.busIndex, line); ok {
			d.rx = append(d.rx, f)
		}
	}
	if len(d.rx) > 0 && d.events != nil {
		d.events.RxAvailable(d.busIndex)
	}
	return canbus.TransmitOK, nil
}

func (d *Dongle) ReadFrame() (canframe.Frame, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return canframe.Frame{}, false, nil
	}
	f := d.rx[0]
	d.rx = d.rx[1:]
	return f, true, nil
}

// sendCommandLocked writes cmd followed by \r and reads lines until the
// '>' prompt; caller holds d.mu.
func (d *Dongle) sendCommandLocked(cmd string) ([]string, error) {
	if _, err := d.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}
	var lines []string
	for {
		line, err := d.reader.ReadString('\r')
		if err != nil {
			return lines, fmt.Errorf("read reply to %q: %w", cmd, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ">") {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// parseResponseLine reads a hex-only line ("7E8 03 41 0C 1A F8" or
// "7E803410C1AF8") into a frame; non-hex lines ("NO DATA", "?", "OK") are
// not frames.
func parseResponseLine(bus int, line string) (canframe.Frame, bool) {
	fields := strings.Fields(line)
	var hex string
	for _, f := range fields {
		hex += f
	}
	if len(hex)%2 != 0 {
		// An 11-bit header prints as 3 hex digits; pad it to a whole byte.
		hex = "0" + hex
	}
	if len(hex) < 6 {
		return canframe.Frame{}, false
	}
	raw := make([]byte, len(hex)/2)
	for i := range raw {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return canframe.Frame{}, false
		}
		raw[i] = byte(v)
	}
	id := uint32(raw[0])<<8 | uint32(raw[1])
	data := raw[2:]
	if len(data) > canframe.MaxDLC {
		data = data[:canframe.MaxDLC]
	}
	return canframe.New(bus, id, canframe.Standard, data), true
}
