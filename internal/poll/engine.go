package poll

import "github.com/anodyne74/candaemon/internal/isotp"

// EventClass distinguishes why BusEngine.Tick is being called.
type EventClass uint8

const (
	Primary EventClass = iota
	Secondary
	Successful
	OnceOff
)

// InitTicker is the sentinel ticker value that never satisfies any entry's
// Due check; a state change resets bus.ticker to this value.
const InitTicker uint32 = 0xFFFFFFFF

// DefaultMaxSequence is the default per-tick dispatch throttle (0 = unlimited).
const DefaultMaxSequence = 0

// Transport is how the engine starts a request once a FoundEntry outcome
// names one: ISO-TP or VWTP, selected by the entry's Protocol. series is
// passed through so the transport knows where to deliver the eventual
// OnPacket/OnError once a response (or failure) arrives asynchronously.
type Transport interface {
	StartIsoTp(variant isotp.Variant, job *Job, entry Entry, series Series) (ok bool)
	StartVwtp(job *Job, entry Entry, series Series) (ok bool)
}

// RunFinishedHook is the vehicle-layer callback fired once a bus's poll run
// completes on a Primary event.
type RunFinishedHook func(bus int)

// BusEngine is the per-bus poll state record: a "resume where we left off"
// struct rather than a suspended coroutine.
type BusEngine struct {
	Bus       int
	transport Transport
	onRunDone RunFinishedHook
	list      *List

	state       State
	ticker      uint32
	pollWait    int
	sequenceCnt int
	sequenceMax int
	runFinished bool

	job Job
}

func NewBusEngine(bus int, list *List, transport Transport, onRunDone RunFinishedHook) *BusEngine {
	return &BusEngine{
		Bus:       bus,
		list:      list,
		transport: transport,
		onRunDone: onRunDone,
		ticker:    InitTicker,
	}
}

// SetState applies a vehicle state transition: marks the run finished,
// resets the ticker to the sentinel, zeroes the sequence counter and clears
// poll_wait. A request already handed to the transport is not cancelled:
// its reply or error is still delivered to its series.
func (e *BusEngine) SetState(s State) {
	e.state = s
	e.runFinished = true
	e.ticker = InitTicker
	e.sequenceCnt = 0
	e.pollWait = 0
}

func (e *BusEngine) SetSequenceMax(n int) { e.sequenceMax = n }

func (e *BusEngine) State() State   { return e.state }
func (e *BusEngine) Ticker() uint32 { return e.ticker }
func (e *BusEngine) PollWait() int  { return e.pollWait }

// TxFailed is the TX failure fast-path: forces poll_wait to 0 and delivers
// on_error(TxFailure) to whichever series currently holds the job, rather
// than waiting out the response timeout.
func (e *BusEngine) TxFailed(series Series) {
	e.pollWait = 0
	if series != nil {
		series.OnTxCallback(&e.job, false)
		series.OnError(&e.job, ErrCodeTxFailure)
	}
}

// ResponseReceived clears poll_wait so the engine's next Tick (typically a
// Successful event, fired immediately by the transport once it has
// delivered the response to the series) can advance to the next entry
// without waiting out the rest of the inter-poll gap.
func (e *BusEngine) ResponseReceived() {
	e.pollWait = 0
}

// Tick runs one iteration of the per-tick algorithm for the given event
// class. It returns true if a new request was dispatched this call.
func (e *BusEngine) Tick(class EventClass) bool {
	if e.state == StateOff || e.list.Len() == 0 {
		return false
	}

	if class == Primary {
		e.ticker++
	}
	if class == Primary || class == Secondary {
		e.sequenceCnt = 0
	}

	if e.pollWait > 0 {
		e.pollWait--
		return false
	}

	if e.runFinished && class == Primary {
		if e.onRunDone != nil {
			e.onRunDone(e.Bus)
		}
		e.runFinished = false
	}

	if e.sequenceMax > 0 && e.sequenceCnt >= e.sequenceMax {
		return false
	}

	for attempt := 0; ; attempt++ {
		outcome, _, series := e.list.Next(e.ticker, e.state)
		switch outcome {
		case Ignore:
			return false
		case NotReady:
			e.runFinished = true
			return false
		case StillAtEnd:
			e.runFinished = true
			return false
		case ReachedEnd:
			if series != nil {
				// The returned FinishAction is not acted on here; removal
				// goes through Series.Removing.
				series.FinishRun()
			}
			if series != nil && series.HasRepeat() && attempt < MaxPollRepeat {
				series.Reset(e.state)
				if class == Successful {
					return false
				}
				continue
			}
			// Giving up on this run: reset so the series scans fresh on the
			// next Primary tick instead of reporting StillAtEnd forever.
			if series != nil {
				series.Reset(e.state)
			}
			e.runFinished = true
			return false
		case FoundEntry:
			entry := series.CurrentEntry()
			e.job = Job{
				Bus:      e.Bus,
				Protocol: entry.Protocol,
				Type:     entry.Type,
				PID:      entry.PID,
				TxID:     entry.TxID,
				RxIDLow:  entry.RxID,
				RxIDHigh: entry.RxID,
				Ticker:   e.ticker,
			}
			ok := false
			if variant, isIsoTp := entry.Protocol.Variant(); isIsoTp {
				ok = e.transport.StartIsoTp(variant, &e.job, entry, series)
			} else {
				ok = e.transport.StartVwtp(&e.job, entry, series)
			}
			e.pollWait = 2
			e.sequenceCnt++
			if !ok {
				e.TxFailed(series)
				return false
			}
			series.OnTxCallback(&e.job, true)
			return true
		default:
			return false
		}
	}
}
