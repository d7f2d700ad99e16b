package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/anodyne74/candaemon/internal/isotp"
	"github.com/anodyne74/candaemon/internal/poll"
)

// alwaysDueSeries fires FoundEntry exactly once per Reset, then StillAtEnd.
type alwaysDueSeries struct {
	fired bool
}

func (s *alwaysDueSeries) Reset(state poll.State) { s.fired = false }
func (s *alwaysDueSeries) Next(ticker uint32, state poll.State) poll.Outcome {
	if s.fired {
		return poll.StillAtEnd
	}
	s.fired = true
	return poll.FoundEntry
}
func (s *alwaysDueSeries) CurrentEntry() poll.Entry            { return poll.Entry{Protocol: poll.IsoTpStd} }
func (s *alwaysDueSeries) OnPacket(job *poll.Job, payload []byte) {}
func (s *alwaysDueSeries) OnError(job *poll.Job, code poll.ErrorCode) {}
func (s *alwaysDueSeries) OnTxCallback(job *poll.Job, ok bool) {}
func (s *alwaysDueSeries) FinishRun() poll.FinishAction        { return poll.FinishNext }
func (s *alwaysDueSeries) Removing() bool                      { return false }
func (s *alwaysDueSeries) HasPollList() bool                   { return true }
func (s *alwaysDueSeries) HasRepeat() bool                     { return false }

type fakeTransport struct{}

func (fakeTransport) StartIsoTp(variant isotp.Variant, job *poll.Job, entry poll.Entry, series poll.Series) bool {
	return true
}
func (fakeTransport) StartVwtp(job *poll.Job, entry poll.Entry, series poll.Series) bool { return true }

func newTestBus(bus int) (*poll.BusEngine, *poll.List) {
	list := poll.NewList()
	list.InsertTail("test-series", &alwaysDueSeries{}, false)
	engine := poll.NewBusEngine(bus, list, fakeTransport{}, nil)
	engine.SetState(poll.StateRunning)
	return engine, list
}

func TestPauseBlocksDispatchAndResumeReleasesIt(t *testing.T) {
	engine, list := newTestBus(0)
	s := New(Options{TickMs: 20 * time.Millisecond})
	s.AddBus(0, nil, engine, list, false)
	s.Start()
	defer s.Shutdown(context.Background())

	s.Pause(SourceUser)
	time.Sleep(80 * time.Millisecond)
	if user, _ := s.Paused(); !user {
		t.Fatalf("expected user-paused after Pause")
	}

	s.Resume(SourceUser)
	time.Sleep(80 * time.Millisecond)
	if user, _ := s.Paused(); user {
		t.Fatalf("expected not paused after Resume")
	}
}

func TestThrottleUpdatesCurrentThrottle(t *testing.T) {
	engine, list := newTestBus(0)
	s := New(Options{TickMs: 50 * time.Millisecond})
	s.AddBus(0, nil, engine, list, false)
	s.Start()
	defer s.Shutdown(context.Background())

	s.Throttle(3)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.CurrentThrottle() == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("CurrentThrottle never reached 3, got %d", s.CurrentThrottle())
}

func TestShutdownClearsSeriesAndStopsConsumer(t *testing.T) {
	engine, list := newTestBus(0)
	s := New(Options{TickMs: 20 * time.Millisecond})
	s.AddBus(0, nil, engine, list, false)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if list.Len() != 0 {
		t.Fatalf("expected series list cleared, got len=%d", list.Len())
	}
}

func TestResetTimerAppliesStateToEngine(t *testing.T) {
	engine, list := newTestBus(0)
	s := New(Options{TickMs: 50 * time.Millisecond})
	s.AddBus(0, nil, engine, list, false)
	s.Start()
	defer s.Shutdown(context.Background())

	s.ResetTimer(poll.StateAwake)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if engine.State() == poll.StateAwake {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("engine state never reset: state=%v", engine.State())
}

func TestStatsRecordsDispatchedTicks(t *testing.T) {
	engine, list := newTestBus(0)
	s := New(Options{TickMs: 20 * time.Millisecond, StatsWindow: 10 * time.Second})
	s.AddBus(0, nil, engine, list, false)
	s.Start()
	defer s.Shutdown(context.Background())

	time.Sleep(200 * time.Millisecond)
	found := false
	for ticker := 0; ticker < 8; ticker++ {
		if s.stats.Summary(EntryPoll, 0, ticker).Count > 0 {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected at least one recorded stats sample")
	}
}
