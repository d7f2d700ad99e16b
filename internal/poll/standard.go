package poll

// MaxPollRepeat bounds how many times BusEngine.Tick will loop internally on
// a single call when a series reports HasRepeat after ReachedEnd, per
// spec.max_poll_repeat. A Standard Series never asks for that (HasRepeat is
// always false below), and neither does a Packet Series; the cap bounds any
// other Series implementation that does.
const MaxPollRepeat = 5

// StandardSeries walks a fixed Entry table in order, firing whichever entry
// is due for the current (ticker, state) pair and handing replies, errors
// and TX feedback to a VehicleSignal. It is the always-present background
// series every Engine bus runs: periodic, never removed, and happy to loop
// back to the top indefinitely.
type StandardSeries struct {
	entries []Entry
	sink    VehicleSignal

	cursor  int
	current Entry
	atEnd   bool
}

func NewStandardSeries(entries []Entry, sink VehicleSignal) *StandardSeries {
	if sink == nil {
		sink = NopVehicleSignal{}
	}
	return &StandardSeries{entries: entries, sink: sink}
}

func (s *StandardSeries) Reset(state State) {
	s.cursor = 0
	s.atEnd = false
}

func (s *StandardSeries) Next(ticker uint32, state State) Outcome {
	if !s.sink.Ready() {
		return NotReady
	}
	if len(s.entries) == 0 {
		return NotReady
	}
	if s.atEnd {
		return StillAtEnd
	}
	for s.cursor < len(s.entries) {
		e := s.entries[s.cursor]
		s.cursor++
		if e.Due(state, ticker) {
			s.current = e
			if s.cursor >= len(s.entries) {
				s.atEnd = true
			}
			return FoundEntry
		}
	}
	s.atEnd = true
	return ReachedEnd
}

func (s *StandardSeries) CurrentEntry() Entry { return s.current }

func (s *StandardSeries) OnPacket(job *Job, payload []byte) {
	s.sink.IncomingPollReply(job, payload)
}

func (s *StandardSeries) OnError(job *Job, code ErrorCode) {
	s.sink.IncomingPollError(job, code)
}

func (s *StandardSeries) OnTxCallback(job *Job, ok bool) {
	s.sink.IncomingPollTxCallback(job, ok)
}

// FinishRun always continues into the next cycle; a Standard Series never
// removes itself.
func (s *StandardSeries) FinishRun() FinishAction { return FinishNext }

func (s *StandardSeries) Removing() bool    { return false }
func (s *StandardSeries) HasPollList() bool { return true }

// HasRepeat is always false: a plain poll table has nothing to gain from
// retrying the scan within the same tick, it simply waits for the next
// Primary tick to come back around. This also lets the Poll Series List skip
// past a Standard Series on ReachedEnd to give other series in the list a
// turn instead of reporting back to the engine immediately.
func (s *StandardSeries) HasRepeat() bool { return false }
