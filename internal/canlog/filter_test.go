package canlog

import "testing"

func TestParseRange(t *testing.T) {
	cases := []struct {
		in      string
		wantBus int
		wantLo  uint32
		wantHi  uint32
	}{
		{"100", -1, 0x100, 0x100},
		{"1:7E0-7EF", 1, 0x7E0, 0x7EF},
		{"2:7EF-7E0", 2, 0x7E0, 0x7EF}, // lo>hi swapped
	}
	for _, c := range cases {
		r, err := ParseRange(c.in)
		if err != nil {
			t.Fatalf("ParseRange(%q): %v", c.in, err)
		}
		if r.Bus != c.wantBus || r.IDLo != c.wantLo || r.IDHi != c.wantHi {
			t.Errorf("ParseRange(%q) = %+v, want bus=%d lo=%X hi=%X", c.in, r, c.wantBus, c.wantLo, c.wantHi)
		}
	}
}

func TestParseRangeInvalid(t *testing.T) {
	if _, err := ParseRange("zz"); err == nil {
		t.Fatalf("expected error for non-hex id")
	}
	if _, err := ParseRange("x:100"); err == nil {
		t.Fatalf("expected error for non-numeric bus")
	}
}

func TestFilterEmptyPassesAll(t *testing.T) {
	var f Filter
	if !f.Passes(0, 0x123) {
		t.Fatalf("empty filter must pass everything")
	}
}

func TestFilterIdempotence(t *testing.T) {
	r, _ := ParseRange("1:7E0-7EF")

	var a Filter
	a.Clear()
	a.Add(r)

	var b Filter
	b.Clear()
	b.Add(r)
	b.Add(r)

	if len(a.ranges) != len(b.ranges) {
		t.Fatalf("clear;add;add != clear;add: %d vs %d", len(b.ranges), len(a.ranges))
	}
}

func TestFilterPassesBusAndRange(t *testing.T) {
	var f Filter
	any, _ := ParseRange("7E0-7EF")
	f.Add(any)

	if !f.Passes(3, 0x7E5) {
		t.Errorf("bus-agnostic range should match any bus")
	}
	if f.Passes(3, 0x800) {
		t.Errorf("id outside range should not pass")
	}
}

func TestFilterMaxFilters(t *testing.T) {
	var f Filter
	for i := 0; i < MaxFilters+4; i++ {
		f.Add(Range{Bus: -1, IDLo: uint32(i), IDHi: uint32(i)})
	}
	if len(f.ranges) != MaxFilters {
		t.Fatalf("len(ranges) = %d, want %d", len(f.ranges), MaxFilters)
	}
}
