package poll

import (
	"testing"

	"github.com/anodyne74/candaemon/internal/isotp"
)

type fakeTransport struct {
	isoTpOK bool
	vwtpOK  bool
	starts  int
}

func (f *fakeTransport) StartIsoTp(variant isotp.Variant, job *Job, entry Entry, series Series) bool {
	f.starts++
	return f.isoTpOK
}

func (f *fakeTransport) StartVwtp(job *Job, entry Entry, series Series) bool {
	f.starts++
	return f.vwtpOK
}

func TestBusEngineDispatchesFoundEntry(t *testing.T) {
	list := NewList()
	list.InsertTail("standard", NewStandardSeries(entries(), NopVehicleSignal{}), false)
	tr := &fakeTransport{isoTpOK: true}
	e := NewBusEngine(0, list, tr, nil)
	e.SetState(StateRunning)
	e.ticker = 1 // simulate the SetState→first Primary having already advanced once

	if !e.Tick(Primary) {
		t.Fatalf("expected a dispatch on this tick")
	}
	if tr.starts != 1 {
		t.Fatalf("expected transport Start called once, got %d", tr.starts)
	}
	if e.PollWait() != 2 {
		t.Fatalf("poll_wait = %d, want 2", e.PollWait())
	}
}

func TestBusEnginePollWaitBlocksDispatch(t *testing.T) {
	list := NewList()
	list.InsertTail("standard", NewStandardSeries(entries(), NopVehicleSignal{}), false)
	tr := &fakeTransport{isoTpOK: true}
	e := NewBusEngine(0, list, tr, nil)
	e.SetState(StateRunning)
	e.pollWait = 3

	if e.Tick(Primary) {
		t.Fatalf("should not dispatch while poll_wait > 0")
	}
	if e.PollWait() != 2 {
		t.Fatalf("poll_wait should have decremented to 2, got %d", e.PollWait())
	}
}

func TestBusEngineOffStateNeverTicks(t *testing.T) {
	list := NewList()
	list.InsertTail("standard", NewStandardSeries(entries(), NopVehicleSignal{}), false)
	tr := &fakeTransport{isoTpOK: true}
	e := NewBusEngine(0, list, tr, nil)

	if e.Tick(Primary) {
		t.Fatalf("engine in StateOff must never dispatch")
	}
	if tr.starts != 0 {
		t.Fatalf("transport should not have been invoked")
	}
}

func TestBusEngineTxFailureForcesPollWaitZero(t *testing.T) {
	list := NewList()
	list.InsertTail("standard", NewStandardSeries(entries(), NopVehicleSignal{}), false)
	tr := &fakeTransport{isoTpOK: false}
	e := NewBusEngine(0, list, tr, nil)
	e.SetState(StateRunning)
	e.ticker = 1

	e.Tick(Primary)
	if e.PollWait() != 0 {
		t.Fatalf("TX failure should force poll_wait to 0, got %d", e.PollWait())
	}
}

func TestBusEngineRunFinishedHookFiresOnPrimary(t *testing.T) {
	list := NewList()
	single := NewStandardSeries([]Entry{{Name: "only", Intervals: [4]uint16{0, 0, 0, 0}}}, NopVehicleSignal{})
	list.InsertTail("standard", single, false)

	called := 0
	tr := &fakeTransport{isoTpOK: true}
	e := NewBusEngine(0, list, tr, func(bus int) { called++ })
	e.SetState(StateRunning)
	e.ticker = 1

	e.Tick(Primary) // ReachedEnd, no repeat -> run finished
	e.Tick(Primary) // should invoke the hook before looping again
	if called == 0 {
		t.Fatalf("expected PollRunFinished hook to fire")
	}
}
