package canframe

import "testing"

func TestNewSetsDLCAndPayload(t *testing.T) {
	f := New(1, 0x7E0, Standard, []byte{1, 2, 3})
	if f.DLC != 3 {
		t.Fatalf("DLC = %d, want 3", f.DLC)
	}
	if got := f.Payload(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Payload = %v", got)
	}
}

func TestNewPanicsOnOversizedPayload(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for payload > MaxDLC")
		}
	}()
	New(1, 0x100, Standard, make([]byte, MaxDLC+1))
}

func TestEqualIgnoresPaddingBeyondDLC(t *testing.T) {
	a := New(1, 0x100, Standard, []byte{1, 2})
	b := a
	b.Data[5] = 0xFF // padding beyond DLC
	if !a.Equal(b) {
		t.Fatalf("frames should be equal ignoring padding bytes")
	}
	b.Data[0] = 0xEE
	if a.Equal(b) {
		t.Fatalf("frames differing within DLC must not be equal")
	}
}

func TestNumberWidening(t *testing.T) {
	a := FromSigned(-5)
	b := FromUnsigned(5)
	if a.Equal(b) {
		t.Fatalf("-5 signed should not equal 5 unsigned")
	}
	c := FromReal(5.0)
	if !b.Equal(c) {
		t.Fatalf("5 unsigned should widen-equal 5.0 real")
	}
}

func TestNumberUndefined(t *testing.T) {
	u := Undefined()
	if u.Kind() != KindUndefined {
		t.Fatalf("Undefined().Kind() = %v, want KindUndefined", u.Kind())
	}
}
