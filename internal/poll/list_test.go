package poll

import "testing"

func TestListHeadPriorityBlocksBehindEntries(t *testing.T) {
	l := NewList()
	std := NewStandardSeries(entries(), NopVehicleSignal{})
	l.InsertTail("standard", std, false)

	blocking := NewOnceOffBlockingSeries(Entry{Name: "single"})
	l.InsertHead(SingleRequestName, blocking, true)

	outcome, name, series := l.Next(2, StateRunning)
	if name != SingleRequestName {
		t.Fatalf("expected head entry %q to be consulted first, got %q", SingleRequestName, name)
	}
	if outcome != FoundEntry {
		t.Fatalf("got %v, want FoundEntry", outcome)
	}
	if series != Series(blocking) {
		t.Fatalf("expected the blocking series back")
	}

	// Blocking series is removed once it fires; standard series gets the
	// next tick.
	blocking.OnPacket(&Job{}, []byte{1})
	outcome2, name2, _ := l.Next(2, StateRunning)
	if name2 != "standard" {
		t.Fatalf("expected standard series at head after blocking completed, got %q", name2)
	}
	if outcome2 != FoundEntry {
		t.Fatalf("got %v, want FoundEntry", outcome2)
	}
}

func TestListRemoveIdempotent(t *testing.T) {
	l := NewList()
	l.InsertTail("a", NewStandardSeries(entries(), NopVehicleSignal{}), false)
	if !l.Remove("a") {
		t.Fatalf("expected first remove to succeed")
	}
	if l.Remove("a") {
		t.Fatalf("expected second remove to report false")
	}
}

func TestListNextEmptyIsNotReady(t *testing.T) {
	l := NewList()
	outcome, _, _ := l.Next(1, StateRunning)
	if outcome != NotReady {
		t.Fatalf("got %v, want NotReady", outcome)
	}
}
