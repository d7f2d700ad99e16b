package dbc

import (
	"testing"

	"pgregory.net/rapid"
)

func TestExtractInsertBitsLittleEndianRoundTrip(t *testing.T) {
	var data [8]byte
	insertBits(&data, 4, 12, LittleEndian, 0xABC)
	got := extractBits(data, 4, 12, LittleEndian)
	if got != 0xABC {
		t.Fatalf("got 0x%X, want 0xABC", got)
	}
}

func TestExtractInsertBitsBigEndianRoundTrip(t *testing.T) {
	var data [8]byte
	// start_bit 7 means "MSB is bit 7 of byte 0" — a whole-byte-0 field.
	insertBits(&data, 7, 8, BigEndian, 0x5A)
	got := extractBits(data, 7, 8, BigEndian)
	if got != 0x5A {
		t.Fatalf("got 0x%X, want 0x5A", got)
	}
	if data[0] != 0x5A {
		t.Fatalf("expected byte 0 to hold the whole field, got 0x%X", data[0])
	}
}

func TestBigEndianCrossesByteBoundary(t *testing.T) {
	var data [8]byte
	// start_bit 7, 16 bits spans byte 0 and byte 1.
	insertBits(&data, 7, 16, BigEndian, 0x1234)
	if data[0] != 0x12 || data[1] != 0x34 {
		t.Fatalf("bytes = %X %X, want 12 34", data[0], data[1])
	}
	got := extractBits(data, 7, 16, BigEndian)
	if got != 0x1234 {
		t.Fatalf("got 0x%X, want 0x1234", got)
	}
}

func TestSignExtend(t *testing.T) {
	cases := []struct {
		raw    uint64
		bitLen int
		want   int64
	}{
		{0x7F, 8, 127},
		{0x80, 8, -128},
		{0xFF, 8, -1},
		{0x0FFF, 12, -1},
		{0x07FF, 12, 2047},
	}
	for _, c := range cases {
		got := signExtend(c.raw, c.bitLen)
		if got != c.want {
			t.Errorf("signExtend(0x%X, %d) = %d, want %d", c.raw, c.bitLen, got, c.want)
		}
	}
}

func TestSignalEncodeClamps(t *testing.T) {
	sig := Signal{StartBit: 0, BitLen: 8, ByteOrder: LittleEndian, ValueType: Unsigned, Factor: 1, Offset: 0}
	raw, ok := sig.Encode(1000)
	if ok {
		t.Errorf("expected clamp (ok=false) for out-of-range value")
	}
	if raw != 255 {
		t.Errorf("raw = %d, want clamped 255", raw)
	}

	raw, ok = sig.Encode(-10)
	if ok {
		t.Errorf("expected clamp (ok=false) for negative value on unsigned field")
	}
	if raw != 0 {
		t.Errorf("raw = %d, want clamped 0", raw)
	}
}

func TestSignalRoundTripDecodeEncode(t *testing.T) {
	sig := Signal{Name: "RPM", StartBit: 0, BitLen: 16, ByteOrder: LittleEndian, ValueType: Unsigned, Factor: 0.25, Offset: 0}
	var data [8]byte
	sig.EncodeInto(&data, 4000.0)
	got := sig.Decode(data)
	if got != 4000.0 {
		t.Errorf("decode(encode(4000)) = %v, want 4000", got)
	}
}

// rapid property: for any in-range physical value, decode(encode(v)) equals
// Quantize(v) — encoding then decoding never drifts beyond the field's
// resolution.
func TestSignalEncodeDecodeQuantizeProperty(t *testing.T) {
	sig := Signal{StartBit: 8, BitLen: 16, ByteOrder: LittleEndian, ValueType: Signed, Factor: 0.1, Offset: -50}
	minRaw, maxRaw := sig.fieldBounds()

	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.Int64Range(minRaw, maxRaw).Draw(rt, "raw")
		phys := float64(raw)*sig.Factor + sig.Offset

		var data [8]byte
		sig.EncodeInto(&data, phys)
		got := sig.Decode(data)
		want := sig.Quantize(phys)
		if got != want {
			rt.Fatalf("decode(encode(%v)) = %v, want %v (quantized)", phys, got, want)
		}
	})
}

func TestMuxedSignalGating(t *testing.T) {
	msg := Message{
		MultiplexorIdx: 0,
		Signals: []Signal{
			{Name: "Mux", StartBit: 0, BitLen: 8, ByteOrder: LittleEndian, ValueType: Unsigned, Factor: 1},
			{Name: "ValueA", StartBit: 8, BitLen: 8, ByteOrder: LittleEndian, ValueType: Unsigned, Factor: 1,
				Mux: Mux{Kind: MuxMuxed, SourceIndex: 0, SwitchRanges: []SwitchRange{{Lo: 0, Hi: 0}}}},
			{Name: "ValueB", StartBit: 8, BitLen: 8, ByteOrder: LittleEndian, ValueType: Unsigned, Factor: 1,
				Mux: Mux{Kind: MuxMuxed, SourceIndex: 0, SwitchRanges: []SwitchRange{{Lo: 1, Hi: 1}}}},
		},
	}

	var data [8]byte
	data[0] = 0
	dec := msg.Decode(data)
	if len(dec.Signals) != 2 || dec.Signals[1].Name != "ValueA" {
		t.Fatalf("expected Mux+ValueA active for switch=0, got %+v", dec.Signals)
	}

	data[0] = 1
	dec = msg.Decode(data)
	if len(dec.Signals) != 2 || dec.Signals[1].Name != "ValueB" {
		t.Fatalf("expected Mux+ValueB active for switch=1, got %+v", dec.Signals)
	}
}

func TestValueTableLookup(t *testing.T) {
	vt := &ValueTable{Values: map[uint32]string{0: "Off", 1: "On"}}
	if s, ok := vt.Lookup(1); !ok || s != "On" {
		t.Errorf("lookup(1) = %q, %v", s, ok)
	}
	if _, ok := vt.Lookup(2); ok {
		t.Errorf("lookup(2) unexpectedly found")
	}
	var nilVt *ValueTable
	if _, ok := nilVt.Lookup(0); ok {
		t.Errorf("nil value table should never find anything")
	}
}
