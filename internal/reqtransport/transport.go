// Package reqtransport binds the ISO-TP (C7) and VWTP 2.0 (C8) framing
// packages to a live Bus Port, implementing poll.Transport: it builds and
// sends a Poll Entry's request, matches the reply against the expected RX
// ID, reassembles multi-frame ISO-TP responses, drives a bus's VWTP
// channel, and delivers the result back to the Polling Engine's active
// series.
package reqtransport

import (
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/isotp"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/vwtp"
)

// DefaultWriteTimeout bounds how long a single frame write may block on a
// busy transceiver before the request is treated as a TX failure.
const DefaultWriteTimeout = 200 * time.Millisecond

// minSeparationTime is the Consecutive Frame pacing this stack requests of
// a peer via Flow Control, per the 25ms default.
const minSeparationTime = 25 * time.Millisecond

// Writer is the narrow slice of canbus.BusPort this transport needs to send
// request, Flow Control, and VWTP frames.
type Writer interface {
	WriteStandard(id uint32, data []byte, maxWait time.Duration) (canbus.WriteResult, error)
	WriteExtended(id uint32, data []byte, maxWait time.Duration) (canbus.WriteResult, error)
}

// Notifier is the narrow slice of the Poller Supervisor this transport
// needs: a way to ask the engine to clear poll_wait and re-tick
// immediately, enqueued rather than called directly so it serialises with
// the supervisor's own command/tick stream instead of racing
// poll.BusEngine.Tick from a second goroutine.
type Notifier interface {
	NotifyResponse(bus int)
}

type isoPending struct {
	variant isotp.Variant
	job     *poll.Job
	entry   poll.Entry
	series  poll.Series
}

type vwtpPending struct {
	job    *poll.Job
	entry  poll.Entry
	series poll.Series
}

// busState is one bus's transport-layer registration: its writer, its
// supervisor notifier, and whichever request (ISO-TP or VWTP) is currently
// in flight. mu guards everything below it, since StartIsoTp/StartVwtp run
// on the supervisor's goroutine while HandleFrame runs on the Frame
// Router's goroutine.
type busState struct {
	writer   Writer
	notifier Notifier
	channel  *vwtp.Channel // nil if this bus never speaks VWTP

	mu   sync.Mutex
	iso  *isoPending
	vwtp *vwtpPending
}

// Transport is the composition root's poll.Transport implementation,
// wired to all of a daemon's buses.
type Transport struct {
	mu    sync.Mutex
	buses map[int]*busState
}

// New creates an empty Transport; call AddBus per bus before it drives any
// poll.BusEngine.
func New() *Transport {
	return &Transport{buses: make(map[int]*busState)}
}

// AddBus registers a bus's writer and supervisor notifier. channel is nil
// for buses that never dispatch VWTP 2.0 entries.
func (t *Transport) AddBus(bus int, writer Writer, notifier Notifier, channel *vwtp.Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buses[bus] = &busState{writer: writer, notifier: notifier, channel: channel}
}

func (t *Transport) bus(n int) *busState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buses[n]
}

func (t *Transport) writeFrame(bs *busState, format canframe.Format, id uint32, data []byte) bool {
	var res canbus.WriteResult
	var err error
	if format == canframe.Extended {
		res, err = bs.writer.WriteExtended(id, data, DefaultWriteTimeout)
	} else {
		res, err = bs.writer.WriteStandard(id, data, DefaultWriteTimeout)
	}
	return err == nil && res != canbus.WriteFail
}

// StartIsoTp sends entry's request as an ISO-TP Single Frame and registers
// the expected reply for HandleFrame to match. Only single-frame requests
// are dispatched: every built-in poll series request fits in 6-7 bytes, and
// sending a multi-frame *request* would additionally require waiting for
// the peer's Flow Control before the Consecutive Frames go out, which this
// transport does not implement (see DESIGN.md).
func (t *Transport) StartIsoTp(variant isotp.Variant, job *poll.Job, entry poll.Entry, series poll.Series) bool {
	bs := t.bus(entry.BusIndex)
	if bs == nil {
		return false
	}
	job.Reset()

	format := canframe.Standard
	if variant == isotp.ExtFrame {
		format = canframe.Extended
	}

	if len(entry.Payload) > variant.MaxSingleFrameLen() {
		return false
	}
	data, n, err := isotp.BuildSingleFrame(variant, 0, entry.Payload)
	if err != nil || !t.writeFrame(bs, format, entry.TxID, data[:n]) {
		return false
	}

	bs.mu.Lock()
	bs.iso = &isoPending{variant: variant, job: job, entry: entry, series: series}
	bs.mu.Unlock()
	return true
}

// HandleFrame is the Frame Router RX callback: it checks every received
// frame against the in-flight ISO-TP or VWTP request on its bus, if any.
func (t *Transport) HandleFrame(f canframe.Frame) {
	bs := t.bus(f.Bus)
	if bs == nil {
		return
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.iso != nil && f.ID == bs.iso.job.RxIDLow {
		t.handleIsoTpFrameLocked(bs, f)
		return
	}
	if bs.vwtp != nil && bs.channel != nil && f.ID == bs.channel.RxID {
		t.handleVwtpFrameLocked(bs, f)
	}
}

func (t *Transport) handleIsoTpFrameLocked(bs *busState, f canframe.Frame) {
	p := bs.iso
	dec, err := isotp.Parse(p.variant, f.Payload())
	if err != nil {
		return
	}

	switch dec.Kind {
	case isotp.KindSingleFrame:
		t.deliverLocked(bs, p, dec.Data)
	case isotp.KindFirstFrame:
		if err := p.job.StartMultiFrame(p.variant, dec.Length, dec.Data); err != nil {
			return
		}
		format := canframe.Standard
		if p.variant == isotp.ExtFrame {
			format = canframe.Extended
		}
		fc := isotp.BuildFlowControl(p.variant, 0, isotp.FlowContinue, 0, minSeparationTime)
		t.writeFrame(bs, format, p.job.TxID, fc[:])
	case isotp.KindConsecutiveFrame:
		done, err := p.job.AppendConsecutive(dec.Seq, dec.Data)
		if err != nil {
			t.failIsoLocked(bs, p, poll.ErrCodeTimeout)
			return
		}
		if done {
			t.deliverLocked(bs, p, p.job.Payload())
		}
	case isotp.KindFlowControl:
		// Only relevant to a multi-frame TX this transport never sends.
	}
}

// isoTpDIDWidth reports how many bytes of payload echo back the request's
// identifier: OBD-II Mode 0x01 and similar services echo a 1-byte PID, while
// UDS ReadDataByIdentifier (Mode 0x22) and its kin echo a 2-byte DID.
func isoTpDIDWidth(reqType uint16) int {
	if reqType == 0x22 {
		return 2
	}
	return 1
}

// deliverLocked validates a complete ISO-TP payload (positive response type
// and echoed PID/DID, or a 0x7F negative response) and hands it to the
// in-flight series. responsePending (NRC 0x78) does not terminate the
// request: the pending entry is left in place so a later reply is still
// delivered, but the engine's poll_wait is not extended.
func (t *Transport) deliverLocked(bs *busState, p *isoPending, payload []byte) {
	if len(payload) >= 1 && payload[0] == 0x7F {
		var nrc byte
		if len(payload) >= 3 {
			nrc = payload[2]
		}
		if nrc == 0x78 {
			return
		}
		bs.iso = nil
		p.series.OnError(p.job, poll.ErrorCode(nrc))
		bs.notifier.NotifyResponse(p.entry.BusIndex)
		return
	}

	wantType := byte(p.entry.Type) + 0x40
	width := isoTpDIDWidth(p.entry.Type)
	if len(payload) < 1+width || payload[0] != wantType {
		// Mismatched response type: silently drop per the validation rule,
		// keep waiting for the real reply.
		return
	}

	var echoed uint16
	if width == 2 {
		echoed = uint16(payload[1])<<8 | uint16(payload[2])
	} else {
		echoed = uint16(payload[1])
	}
	if echoed != p.entry.PID {
		// Echoed PID/DID doesn't match this request: keep waiting.
		return
	}

	bs.iso = nil
	p.series.OnPacket(p.job, payload[1+width:])
	bs.notifier.NotifyResponse(p.entry.BusIndex)
}

func (t *Transport) failIsoLocked(bs *busState, p *isoPending, code poll.ErrorCode) {
	bs.iso = nil
	p.series.OnError(p.job, code)
	bs.notifier.NotifyResponse(p.entry.BusIndex)
}
