// Package isotp implements the ISO 15765-2 transport framing used by the
// Polling Engine: single/first/consecutive/flow-control frame assembly and
// fragmentation across the standard, extended-address and extended-frame
// variants.
package isotp

import (
	"fmt"
	"time"
)

// Variant selects how the 11/29-bit CAN identifier and payload bytes combine
// to carry ISO-TP addressing.
type Variant uint8

const (
	// Std is plain 11-bit addressing; the whole 8-byte payload is PCI+data.
	Std Variant = iota
	// ExtAddr prefixes a 1-byte target address inside the payload; the
	// ID-space itself is not used for addressing.
	ExtAddr
	// ExtFrame uses 29-bit identifiers; framing is otherwise identical to Std.
	ExtFrame
)

// addrOffset is the number of payload bytes consumed by addressing before
// the PCI byte begins.
func (v Variant) addrOffset() int {
	if v == ExtAddr {
		return 1
	}
	return 0
}

// MaxSingleFrameLen is the largest payload a Single Frame can carry in this
// variant.
func (v Variant) MaxSingleFrameLen() int { return 7 - v.addrOffset() }

// firstFrameDataLen is how many payload bytes a First Frame carries.
func (v Variant) firstFrameDataLen() int { return 6 - v.addrOffset() }

// consecutiveFrameDataLen is how many payload bytes one Consecutive Frame carries.
func (v Variant) consecutiveFrameDataLen() int { return 7 - v.addrOffset() }

// MaxPayload is the largest reassembled payload this package supports.
const MaxPayload = 4095

// FrameKind discriminates the four ISO-TP PCI types.
type FrameKind uint8

const (
	KindSingleFrame FrameKind = iota
	KindFirstFrame
	KindConsecutiveFrame
	KindFlowControl
)

// FlowStatus is the FC frame's flag.
type FlowStatus uint8

const (
	FlowContinue FlowStatus = iota
	FlowWait
	FlowAbort
)

// Decoded is one parsed ISO-TP frame.
type Decoded struct {
	Kind           FrameKind
	Length         int // SF/FF: total payload length
	Seq            int // CF: 0..15 wraparound sequence
	Status         FlowStatus
	BlockSize      byte
	SeparationTime time.Duration
	Data           []byte // SF: the payload; FF/CF: this frame's data chunk
}

// EncodeSeparationTime converts a duration to the wire byte: 0x00-0x7F are
// milliseconds, 0xF1-0xF9 are 100-900 microseconds.
func EncodeSeparationTime(d time.Duration) byte {
	if d <= 0 {
		return 0x00
	}
	if d < time.Millisecond {
		us := d.Microseconds()
		step := us / 100
		if step < 1 {
			step = 1
		}
		if step > 9 {
			step = 9
		}
		return byte(0xF0 + step)
	}
	ms := d.Milliseconds()
	if ms > 0x7F {
		ms = 0x7F
	}
	return byte(ms)
}

// DecodeSeparationTime is the inverse of EncodeSeparationTime. Reserved
// values (0x80-0xF0, 0xFA-0xFF) decode as 0 (treated as "no minimum").
func DecodeSeparationTime(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}

// BuildSingleFrame encodes payload (len <= v.MaxSingleFrameLen()) as an
// 8-byte CAN data field.
func BuildSingleFrame(v Variant, extAddr byte, payload []byte) ([8]byte, uint8, error) {
	var out [8]byte
	if len(payload) > v.MaxSingleFrameLen() {
		return out, 0, fmt.Errorf("isotp: payload length %d exceeds single-frame max %d", len(payload), v.MaxSingleFrameLen())
	}
	off := 0
	if v == ExtAddr {
		out[0] = extAddr
		off = 1
	}
	out[off] = byte(len(payload)) & 0x0F
	copy(out[off+1:], payload)
	return out, uint8(off + 1 + len(payload)), nil
}

// BuildFirstFrame encodes the first chunk of a multi-frame payload. totalLen
// is the full reassembled length (<= MaxPayload); chunk must be exactly
// v.firstFrameDataLen() bytes (the caller pads/truncates from the full payload).
func BuildFirstFrame(v Variant, extAddr byte, totalLen int, chunk []byte) ([8]byte, error) {
	var out [8]byte
	if totalLen > MaxPayload {
		return out, fmt.Errorf("isotp: total length %d exceeds %d", totalLen, MaxPayload)
	}
	if len(chunk) != v.firstFrameDataLen() {
		return out, fmt.Errorf("isotp: first-frame chunk must be %d bytes, got %d", v.firstFrameDataLen(), len(chunk))
	}
	off := 0
	if v == ExtAddr {
		out[0] = extAddr
		off = 1
	}
	out[off] = 0x10 | byte((totalLen>>8)&0x0F)
	out[off+1] = byte(totalLen & 0xFF)
	copy(out[off+2:], chunk)
	return out, nil
}

// BuildConsecutiveFrame encodes one Consecutive Frame with 4-bit wraparound
// sequence seq (caller passes seq already mod 16). chunk may be shorter than
// v.consecutiveFrameDataLen() only for the final frame; the rest is padded
// with zero.
func BuildConsecutiveFrame(v Variant, extAddr byte, seq int, chunk []byte) ([8]byte, error) {
	var out [8]byte
	maxLen := v.consecutiveFrameDataLen()
	if len(chunk) > maxLen {
		return out, fmt.Errorf("isotp: consecutive-frame chunk length %d exceeds %d", len(chunk), maxLen)
	}
	off := 0
	if v == ExtAddr {
		out[0] = extAddr
		off = 1
	}
	out[off] = 0x20 | byte(seq&0x0F)
	copy(out[off+1:], chunk)
	return out, nil
}

// BuildFlowControl encodes a Flow Control frame.
func BuildFlowControl(v Variant, extAddr byte, status FlowStatus, blockSize byte, sepTime time.Duration) [8]byte {
	var out [8]byte
	off := 0
	if v == ExtAddr {
		out[0] = extAddr
		off = 1
	}
	out[off] = 0x30 | byte(status)
	out[off+1] = blockSize
	out[off+2] = EncodeSeparationTime(sepTime)
	return out
}

// Parse decodes an incoming CAN payload (already DLC-trimmed) according to
// variant.
func Parse(v Variant, data []byte) (Decoded, error) {
	off := v.addrOffset()
	if len(data) <= off {
		return Decoded{}, fmt.Errorf("isotp: payload too short for variant")
	}
	pci := data[off]
	nibble := pci >> 4

	switch nibble {
	case 0x0:
		length := int(pci & 0x0F)
		if off+1+length > len(data) {
			return Decoded{}, fmt.Errorf("isotp: single-frame length %d exceeds payload", length)
		}
		return Decoded{Kind: KindSingleFrame, Length: length, Data: data[off+1 : off+1+length]}, nil

	case 0x1:
		if len(data) < off+2 {
			return Decoded{}, fmt.Errorf("isotp: first-frame header truncated")
		}
		length := (int(pci&0x0F) << 8) | int(data[off+1])
		chunk := data[off+2:]
		return Decoded{Kind: KindFirstFrame, Length: length, Data: chunk}, nil

	case 0x2:
		seq := int(pci & 0x0F)
		return Decoded{Kind: KindConsecutiveFrame, Seq: seq, Data: data[off+1:]}, nil

	case 0x3:
		if len(data) < off+3 {
			return Decoded{}, fmt.Errorf("isotp: flow-control frame truncated")
		}
		status := FlowStatus(pci & 0x0F)
		return Decoded{
			Kind:           KindFlowControl,
			Status:         status,
			BlockSize:      data[off+1],
			SeparationTime: DecodeSeparationTime(data[off+2]),
		}, nil

	default:
		return Decoded{}, fmt.Errorf("isotp: unrecognised PCI nibble 0x%X", nibble)
	}
}
