package poll

// PacketSeries walks a fixed Entry table like StandardSeries, but instead of
// forwarding each reply individually it concatenates every payload received
// during a run into one buffer, and reports that buffer through a success
// closure once the run completes; each error instead calls a failure
// closure and suppresses that run's success closure.
// This is the shape a scan-and-aggregate PID sweep needs: many small
// requests, one combined result.
type PacketSeries struct {
	entries []Entry
	onOK    func(payload []byte)
	onFail  func(code ErrorCode)

	cursor  int
	current Entry
	atEnd   bool
	buf     []byte
	failed  bool
}

func NewPacketSeries(entries []Entry, onOK func([]byte), onFail func(ErrorCode)) *PacketSeries {
	return &PacketSeries{entries: entries, onOK: onOK, onFail: onFail}
}

func (s *PacketSeries) Reset(state State) {
	s.cursor = 0
	s.atEnd = false
	s.buf = s.buf[:0]
	s.failed = false
}

func (s *PacketSeries) Next(ticker uint32, state State) Outcome {
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

func (s *PacketSeries) CurrentEntry() Entry { return s.current }

func (s *PacketSeries) OnPacket(job *Job, payload []byte) {
	s.buf = append(s.buf, payload...)
}

func (s *PacketSeries) OnError(job *Job, code ErrorCode) {
	s.failed = true
	if s.onFail != nil {
		s.onFail(code)
	}
}

func (s *PacketSeries) OnTxCallback(job *Job, ok bool) {
	if !ok {
		s.OnError(job, ErrCodeTxFailure)
	}
}

// FinishRun delivers the accumulated buffer to the success closure (unless
// an error already fired this run) and starts over for the next run.
func (s *PacketSeries) FinishRun() FinishAction {
	if !s.failed && s.onOK != nil {
		out := make([]byte, len(s.buf))
		copy(out, s.buf)
		s.onOK(out)
	}
	s.buf = s.buf[:0]
	s.failed = false
	return FinishNext
}

func (s *PacketSeries) Removing() bool    { return false }
func (s *PacketSeries) HasPollList() bool { return true }
func (s *PacketSeries) HasRepeat() bool   { return false }
