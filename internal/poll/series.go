package poll

// Outcome is what SeriesList.Next returns for one due-check.
type Outcome uint8

const (
	Ignore Outcome = iota
	NotReady
	FoundEntry
	ReachedEnd
	StillAtEnd
)

// FinishAction is what a series requests once its run through the entry
// list completes.
type FinishAction uint8

const (
	FinishNext FinishAction = iota
	FinishRemoveNext
	FinishRemoveRestart
)

// Series is the small capability trait every concrete series kind
// (Standard/Packet/OnceOffBlocking/OnceOff) implements uniformly, so the
// list can iterate over it without caring which kind it holds.
type Series interface {
	// Reset reinitialises the series' internal cursor for the given state.
	Reset(state State)

	// Next asks whether an entry is due at (ticker, state); on FoundEntry,
	// the caller then calls CurrentEntry to get it.
	Next(ticker uint32, state State) Outcome

	// CurrentEntry returns the entry Next last reported via FoundEntry.
	CurrentEntry() Entry

	// OnPacket delivers a completed (possibly reassembled) response payload.
	OnPacket(job *Job, payload []byte)

	// OnError delivers a terminal failure for the in-flight request.
	OnError(job *Job, code ErrorCode)

	// OnTxCallback reports whether the outgoing frame was accepted by the
	// transceiver.
	OnTxCallback(job *Job, ok bool)

	// FinishRun is called when the series reaches the end of its entry list.
	FinishRun() FinishAction

	// Removing reports whether this series should be dropped from the list.
	Removing() bool

	// HasPollList reports whether the series iterates an entry list at all
	// (always false for the single-request OnceOff series).
	HasPollList() bool

	// HasRepeat reports whether ReachedEnd should retry from the top rather
	// than terminate.
	HasRepeat() bool
}

// Blocking is implemented by series that must block the caller until
// completion (OnceOffBlocking); the list gives these priority over
// non-blocking series at its head.
type Blocking interface {
	Series
	Done() <-chan struct{}
}
