// Package dbc implements the DBC (CAN database) parser and runtime: the
// in-memory model of messages, signals, value tables and nodes, the
// bit-level codec for one signal, and the named, reference-counted
// store of loaded files.
package dbc

import "fmt"

// ByteOrder selects little-endian (Intel) or big-endian (Motorola) bit
// addressing for a signal.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// ValueType selects signed/unsigned interpretation of the raw bit field.
type ValueType uint8

const (
	Unsigned ValueType = iota
	Signed
)

// MuxKind classifies a signal's role in a multiplexed message.
type MuxKind uint8

const (
	MuxNone MuxKind = iota
	MuxSource
	MuxMuxed
	MuxBoth
)

// SwitchRange is one inclusive [Lo, Hi] range of multiplexor switch values
// that makes a Muxed signal active.
type SwitchRange struct {
	Lo, Hi uint32
}

// Mux carries a signal's multiplexing role and (for Muxed/Both signals) the
// source switch value it depends on.
type Mux struct {
	Kind         MuxKind
	SwitchVal    uint32 // for MuxSource signals: the constant identifying this mux group (usually unused at top level)
	SourceIndex  int    // index into Message.Signals of the MuxSource signal (Muxed/Both only)
	SwitchRanges []SwitchRange
}

// ValueTable maps raw integer values to descriptive strings, either DBC-file
// scoped and named (VAL_TABLE_) or embedded directly in a signal (VAL_).
type ValueTable struct {
	Name   string // empty for an embedded, unnamed table
	Values map[uint32]string
}

func (vt *ValueTable) Lookup(raw uint32) (string, bool) {
	if vt == nil || vt.Values == nil {
		return "", false
	}
	s, ok := vt.Values[raw]
	return s, ok
}

// Signal is one bit-field definition within a Message.
type Signal struct {
	Name       string
	StartBit   int
	BitLen     int
	ByteOrder  ByteOrder
	ValueType  ValueType
	Factor     float64
	Offset     float64
	Min, Max   float64
	Unit       string
	MetricUnit string
	Receivers  []string
	ValueTable *ValueTable
	Comment    string
	Mux        Mux
}

// Message is one CAN message (BO_) and its signals.
type Message struct {
	ID              uint32
	IsExtended      bool
	Name            string
	ByteSize        int
	TransmitterNode string
	Signals         []Signal
	MultiplexorIdx  int // index into Signals of the MuxSource signal, or -1
	Comment         string
}

// MultiplexorSignal returns the message's MuxSource signal, if any.
func (m *Message) MultiplexorSignal() *Signal {
	if m.MultiplexorIdx < 0 || m.MultiplexorIdx >= len(m.Signals) {
		return nil
	}
	return &m.Signals[m.MultiplexorIdx]
}

// SignalByName returns a pointer into m.Signals, or nil.
func (m *Message) SignalByName(name string) *Signal {
	for i := range m.Signals {
		if m.Signals[i].Name == name {
			return &m.Signals[i]
		}
	}
	return nil
}

// BitTiming records the DBC BS_ segment (baud rate, BTR1, BTR2); 0 values
// mean "unspecified, use the bus configuration".
type BitTiming struct {
	BaudRateKbps int
	BTR1         int
	BTR2         int
}

// Node is one BU_ network node name. The model keeps just the name; the DBC
// grammar allows attributes on nodes but nothing here acts on them.
type Node struct {
	Name string
}

// File is one parsed DBC file plus the store-level metadata: path and
// reference-count lock.
type File struct {
	Name        string
	Path        string
	Version     string
	NewSymbols  []string
	BitTiming   BitTiming
	Nodes       []Node
	ValueTables map[string]*ValueTable // DBC-scope named tables (VAL_TABLE_)
	Messages    []Message
	Comments    []string // free-form CM_ lines not scoped to node/message/signal
	Partial     bool     // true if any line failed to parse

	lockCount int
}

// MessageByID returns a pointer into f.Messages, or nil.
func (f *File) MessageByID(id uint32) *Message {
	for i := range f.Messages {
		if f.Messages[i].ID == id {
			return &f.Messages[i]
		}
	}
	return nil
}

// LockCount reports the current reference-count lock.
func (f *File) LockCount() int { return f.lockCount }

// Lock increments the reference count, taken by any consumer holding a
// reference across calls that might otherwise replace or unload the file.
func (f *File) Lock() { f.lockCount++ }

// Unlock decrements the reference count. Unlocking an unlocked file is a
// programmer error; it is reported rather than allowed to go negative.
func (f *File) Unlock() error {
	if f.lockCount <= 0 {
		return fmt.Errorf("dbc: unlock of %q with lock count already zero", f.Name)
	}
	f.lockCount--
	return nil
}
