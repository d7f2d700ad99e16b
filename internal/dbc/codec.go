package dbc

import (
	"math"

	"github.com/anodyne74/candaemon/internal/canframe"
)

// extractBits pulls bitLen bits out of an 8-byte payload starting at
// startBit, honoring byte order. Little-endian bits run LSB-first across
// byte boundaries in natural order; big-endian (Motorola) addressing walks
// the DBC "sawtooth": start_bit names the MSB's position within its byte,
// and each successive bit decrements through the byte before continuing
// into the next one.
func extractBits(data [8]byte, startBit, bitLen int, order ByteOrder) uint64 {
	var raw uint64

	if order == LittleEndian {
		for i := 0; i < bitLen; i++ {
			bitPos := startBit + i
			byteIdx := bitPos / 8
			bitInByte := bitPos % 8
			if byteIdx >= len(data) {
				continue
			}
			bit := (data[byteIdx] >> uint(bitInByte)) & 1
			raw |= uint64(bit) << uint(i)
		}
		return raw
	}

	// Motorola/big-endian: walk the sawtooth starting at startBit (MSB
	// position) for bitLen bits, filling the result MSB-first.
	pos := startBit
	for i := 0; i < bitLen; i++ {
		byteIdx := pos / 8
		bitInByte := pos % 8
		if byteIdx < len(data) {
			bit := (data[byteIdx] >> uint(bitInByte)) & 1
			raw = (raw << 1) | uint64(bit)
		} else {
			raw = raw << 1
		}
		if bitInByte == 0 {
			pos += 15 // drop to MSB of next byte (bit 7), i.e. +8 to the next byte then +7 to its top bit
		} else {
			pos--
		}
	}
	return raw
}

// insertBits writes the low bitLen bits of raw into data, the inverse of
// extractBits.
func insertBits(data *[8]byte, startBit, bitLen int, order ByteOrder, raw uint64) {
	if order == LittleEndian {
		for i := 0; i < bitLen; i++ {
			bitPos := startBit + i
			byteIdx := bitPos / 8
			bitInByte := bitPos % 8
			if byteIdx >= len(data) {
				continue
			}
			bit := byte((raw >> uint(i)) & 1)
			if bit != 0 {
				data[byteIdx] |= 1 << uint(bitInByte)
			} else {
				data[byteIdx] &^= 1 << uint(bitInByte)
			}
		}
		return
	}

	pos := startBit
	for i := bitLen - 1; i >= 0; i-- {
		byteIdx := pos / 8
		bitInByte := pos % 8
		if byteIdx < len(data) {
			bit := byte((raw >> uint(i)) & 1)
			if bit != 0 {
				data[byteIdx] |= 1 << uint(bitInByte)
			} else {
				data[byteIdx] &^= 1 << uint(bitInByte)
			}
		}
		if bitInByte == 0 {
			pos += 15
		} else {
			pos--
		}
	}
}

func signExtend(raw uint64, bitLen int) int64 {
	if bitLen >= 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(bitLen-1)
	if raw&signBit != 0 {
		return int64(raw) - int64(signBit<<1)
	}
	return int64(raw)
}

// DecodeRaw extracts the raw bit-field value for s from data, sign-extending
// for Signed signals.
func (s *Signal) DecodeRaw(data [8]byte) canframe.Number {
	raw := extractBits(data, s.StartBit, s.BitLen, s.ByteOrder)
	if s.ValueType == Signed {
		return canframe.FromSigned(int32(signExtend(raw, s.BitLen)))
	}
	return canframe.FromUnsigned(uint32(raw))
}

// Decode returns the physical value: raw*factor + offset.
func (s *Signal) Decode(data [8]byte) float64 {
	raw := s.DecodeRaw(data)
	return raw.Float()*s.Factor + s.Offset
}

// fieldBounds returns the minimum and maximum representable raw values for
// the field width and value type, used to clamp encoded values.
func (s *Signal) fieldBounds() (minRaw, maxRaw int64) {
	if s.ValueType == Signed {
		maxRaw = int64(1)<<uint(s.BitLen-1) - 1
		minRaw = -(int64(1) << uint(s.BitLen-1))
		return
	}
	maxRaw = int64(1)<<uint(s.BitLen) - 1
	minRaw = 0
	return
}

// Encode computes the raw field value for physical value phys, clamping to
// the bit-field width and rounding to the nearest integer. ok is false if
// the value had to be clamped.
func (s *Signal) Encode(phys float64) (raw int64, ok bool) {
	if s.Factor == 0 {
		return 0, false
	}
	unclamped := math.Round((phys - s.Offset) / s.Factor)
	minRaw, maxRaw := s.fieldBounds()
	ok = true
	if unclamped < float64(minRaw) {
		unclamped = float64(minRaw)
		ok = false
	}
	if unclamped > float64(maxRaw) {
		unclamped = float64(maxRaw)
		ok = false
	}
	return int64(unclamped), ok
}

// EncodeInto rounds and clamps phys, then writes the resulting bit field
// into data.
func (s *Signal) EncodeInto(data *[8]byte, phys float64) bool {
	raw, ok := s.Encode(phys)
	var u uint64
	if s.ValueType == Signed {
		u = uint64(uint64(raw) & ((uint64(1) << uint(s.BitLen)) - 1))
	} else {
		u = uint64(raw)
	}
	insertBits(data, s.StartBit, s.BitLen, s.ByteOrder, u)
	return ok
}

// Quantize rounds v to the resolution representable by the signal's bit
// field (used by the decode(encode(v))==quantize(v) round-trip invariant).
func (s *Signal) Quantize(v float64) float64 {
	raw, _ := s.Encode(v)
	return float64(raw)*s.Factor + s.Offset
}

// SignalActive reports whether this signal is active for a given message payload:
// always true unless the signal is Muxed/Both, in which case it depends on
// the MuxSource signal's current raw value falling within SwitchRanges.
func (m *Message) SignalActive(sigIdx int, data [8]byte) bool {
	sig := &m.Signals[sigIdx]
	if sig.Mux.Kind != MuxMuxed && sig.Mux.Kind != MuxBoth {
		return true
	}
	if sig.Mux.SourceIndex < 0 || sig.Mux.SourceIndex >= len(m.Signals) {
		return false
	}
	source := &m.Signals[sig.Mux.SourceIndex]
	switchVal := source.DecodeRaw(data).Unsigned()
	for _, r := range sig.Mux.SwitchRanges {
		if switchVal >= r.Lo && switchVal <= r.Hi {
			return true
		}
	}
	return false
}

// DecodedSignal is one signal's decoded value, string-mapped through its
// value table when present.
type DecodedSignal struct {
	Name    string
	Raw     canframe.Number
	Phys    float64
	Unit    string
	Mapping string // value-table string, if any
	HasText bool
}

// DecodedMessage is the full decode result for one frame against a Message
// definition: every active, non-gated signal.
type DecodedMessage struct {
	MessageID uint32
	Name      string
	Signals   []DecodedSignal
}

// Decode evaluates every signal in m against data, skipping Muxed signals
// outside their active switch range.
func (m *Message) Decode(data [8]byte) DecodedMessage {
	out := DecodedMessage{MessageID: m.ID, Name: m.Name}
	for i := range m.Signals {
		if !m.SignalActive(i, data) {
			continue
		}
		sig := &m.Signals[i]
		raw := sig.DecodeRaw(data)
		phys := raw.Float()*sig.Factor + sig.Offset
		ds := DecodedSignal{Name: sig.Name, Raw: raw, Phys: phys, Unit: sig.Unit}
		if text, ok := sig.ValueTable.Lookup(raw.Unsigned()); ok {
			ds.Mapping = text
			ds.HasText = true
		}
		out.Signals = append(out.Signals, ds)
	}
	return out
}

// DecodeFrame decodes data against whichever message in f matches id, or
// reports ok=false.
func (f *File) DecodeFrame(id uint32, data [8]byte) (DecodedMessage, bool) {
	msg := f.MessageByID(id)
	if msg == nil {
		return DecodedMessage{}, false
	}
	return msg.Decode(data), true
}
