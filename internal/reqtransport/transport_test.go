package reqtransport

import (
	"testing"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/isotp"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/anodyne74/candaemon/internal/vwtp"
)

type fakeWriter struct {
	sent []canframe.Frame
}

func (w *fakeWriter) WriteStandard(id uint32, data []byte, maxWait time.Duration) (canbus.WriteResult, error) {
	w.sent = append(w.sent, canframe.New(0, id, canframe.Standard, data))
	return canbus.WriteOK, nil
}

func (w *fakeWriter) WriteExtended(id uint32, data []byte, maxWait time.Duration) (canbus.WriteResult, error) {
	w.sent = append(w.sent, canframe.New(0, id, canframe.Extended, data))
	return canbus.WriteOK, nil
}

type fakeNotifier struct {
	notified []int
}

func (n *fakeNotifier) NotifyResponse(bus int) { n.notified = append(n.notified, bus) }

type fakeSeries struct {
	packets [][]byte
	errs    []poll.ErrorCode
}

func (s *fakeSeries) Reset(state poll.State)          {}
func (s *fakeSeries) Next(uint32, poll.State) poll.Outcome { return poll.NotReady }
func (s *fakeSeries) CurrentEntry() poll.Entry        { return poll.Entry{} }
func (s *fakeSeries) OnPacket(job *poll.Job, payload []byte) {
	s.packets = append(s.packets, append([]byte(nil), payload...))
}
func (s *fakeSeries) OnError(job *poll.Job, code poll.ErrorCode) { s.errs = append(s.errs, code) }
func (s *fakeSeries) OnTxCallback(job *poll.Job, ok bool)        {}
func (s *fakeSeries) FinishRun() poll.FinishAction               { return poll.FinishNext }
func (s *fakeSeries) Removing() bool                             { return false }
func (s *fakeSeries) HasPollList() bool                          { return true }
func (s *fakeSeries) HasRepeat() bool                             { return false }

func TestStartIsoTpSendsSingleFrameRequest(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	tr := New()
	tr.AddBus(0, w, n, nil)

	entry := poll.Entry{TxID: 0x7E0, RxID: 0x7E8, Type: 0x01, PID: 0x0C, Payload: []byte{0x01, 0x0C}, BusIndex: 0}
	var job poll.Job
	job.Bus = 0
	job.RxIDLow = entry.RxID
	job.TxID = entry.TxID

	series := &fakeSeries{}
	if !tr.StartIsoTp(isotp.Std, &job, entry, series) {
		t.Fatalf("StartIsoTp returned false")
	}
	if len(w.sent) != 1 {
		t.Fatalf("expected one frame sent, got %d", len(w.sent))
	}
	got := w.sent[0]
	if got.ID != 0x7E0 {
		t.Fatalf("expected request on 0x7E0, got %03X", got.ID)
	}
}

func TestSingleFrameResponseDeliversToSeries(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	tr := New()
	tr.AddBus(0, w, n, nil)

	entry := poll.Entry{TxID: 0x7E0, RxID: 0x7E8, Type: 0x01, PID: 0x0C, Payload: []byte{0x01, 0x0C}, BusIndex: 0}
	var job poll.Job
	job.Bus = 0
	job.RxIDLow = entry.RxID
	job.TxID = entry.TxID

	series := &fakeSeries{}
	if !tr.StartIsoTp(isotp.Std, &job, entry, series) {
		t.Fatalf("StartIsoTp returned false")
	}

	sf, n8, err := isotp.BuildSingleFrame(isotp.Std, 0, []byte{0x41, 0x0C, 0x1A, 0xF8})
	if err != nil {
		t.Fatalf("BuildSingleFrame: %v", err)
	}
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, sf[:n8]))

	if len(series.packets) != 1 {
		t.Fatalf("expected one delivered packet, got %d", len(series.packets))
	}
	if len(n.notified) != 1 || n.notified[0] != 0 {
		t.Fatalf("expected NotifyResponse(0), got %v", n.notified)
	}
}

func TestNegativeResponseDeliversNRCToSeries(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	tr := New()
	tr.AddBus(0, w, n, nil)

	entry := poll.Entry{TxID: 0x7E0, RxID: 0x7E8, Type: 0x01, PID: 0x0C, Payload: []byte{0x01, 0x0C}, BusIndex: 0}
	var job poll.Job
	job.Bus = 0
	job.RxIDLow = entry.RxID

	series := &fakeSeries{}
	tr.StartIsoTp(isotp.Std, &job, entry, series)

	sf, n8, _ := isotp.BuildSingleFrame(isotp.Std, 0, []byte{0x7F, 0x01, 0x31})
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, sf[:n8]))

	if len(series.errs) != 1 || series.errs[0] != poll.ErrorCode(0x31) {
		t.Fatalf("expected NRC 0x31 delivered, got %v", series.errs)
	}
}

func TestResponsePendingDoesNotTerminateRequest(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	tr := New()
	tr.AddBus(0, w, n, nil)

	entry := poll.Entry{TxID: 0x7E0, RxID: 0x7E8, Type: 0x01, PID: 0x0C, Payload: []byte{0x01, 0x0C}, BusIndex: 0}
	var job poll.Job
	job.Bus = 0
	job.RxIDLow = entry.RxID

	series := &fakeSeries{}
	tr.StartIsoTp(isotp.Std, &job, entry, series)

	pending, n8, _ := isotp.BuildSingleFrame(isotp.Std, 0, []byte{0x7F, 0x01, 0x78})
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, pending[:n8]))

	if len(series.errs) != 0 || len(n.notified) != 0 {
		t.Fatalf("expected responsePending to leave request in flight, got errs=%v notified=%v", series.errs, n.notified)
	}

	sf, n8b, _ := isotp.BuildSingleFrame(isotp.Std, 0, []byte{0x41, 0x0C, 0x20})
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, sf[:n8b]))
	if len(series.packets) != 1 {
		t.Fatalf("expected the eventual real reply to be delivered, got %d packets", len(series.packets))
	}
}

func TestMultiFrameResponseReassemblesAndDelivers(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	tr := New()
	tr.AddBus(0, w, n, nil)

	entry := poll.Entry{TxID: 0x7E0, RxID: 0x7E8, Type: 0x09, PID: 0x02, Payload: []byte{0x09, 0x02}, BusIndex: 0}
	var job poll.Job
	job.Bus = 0
	job.RxIDLow = entry.RxID

	series := &fakeSeries{}
	tr.StartIsoTp(isotp.Std, &job, entry, series)

	full := []byte{0x49, 0x02, 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M'}
	ff, err := isotp.BuildFirstFrame(isotp.Std, 0, len(full), full[:6])
	if err != nil {
		t.Fatalf("BuildFirstFrame: %v", err)
	}
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, ff[:]))

	if len(w.sent) != 2 {
		t.Fatalf("expected the request plus a Flow Control frame sent after the First Frame, got %d frames", len(w.sent))
	}

	rest := full[6:]
	cf1, err := isotp.BuildConsecutiveFrame(isotp.Std, 0, 1, rest[:7])
	if err != nil {
		t.Fatalf("BuildConsecutiveFrame 1: %v", err)
	}
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, cf1[:]))

	cf2, err := isotp.BuildConsecutiveFrame(isotp.Std, 0, 2, rest[7:])
	if err != nil {
		t.Fatalf("BuildConsecutiveFrame 2: %v", err)
	}
	tr.HandleFrame(canframe.New(0, 0x7E8, canframe.Standard, cf2[:]))

	if len(series.packets) != 1 {
		t.Fatalf("expected one reassembled packet delivered, got %d", len(series.packets))
	}
	if string(series.packets[0]) != string(full[2:]) {
		t.Fatalf("reassembled payload mismatch: got %q want %q", series.packets[0], full[2:])
	}
}

func TestStartVwtpDrivesChannelAndDeliversResponse(t *testing.T) {
	w := &fakeWriter{}
	n := &fakeNotifier{}
	ch := vwtp.NewChannel(0x200, 1, 0x300, 0x301)
	tr := New()
	tr.AddBus(0, w, n, ch)

	entry := poll.Entry{TxID: ch.TxID, RxID: ch.RxID, Type: 0x22, PID: 0xF190, Payload: []byte{0x22, 0xF1, 0x90}, BusIndex: 0, Protocol: poll.Vwtp20}
	var job poll.Job
	job.Bus = 0

	series := &fakeSeries{}
	if !tr.StartVwtp(&job, entry, series) {
		t.Fatalf("StartVwtp returned false")
	}
	if ch.State() != vwtp.Receive {
		t.Fatalf("expected channel in Receive after StartVwtp, got %v", ch.State())
	}
	if len(w.sent) != 1 || w.sent[0].ID != ch.TxID {
		t.Fatalf("expected one frame sent to TxID, got %v", w.sent)
	}

	reply := append([]byte{0x30}, []byte{'V', 'I', 'N', '1', '2', '3'}...)
	tr.HandleFrame(canframe.New(0, ch.RxID, canframe.Standard, reply))

	if len(series.packets) != 1 {
		t.Fatalf("expected one delivered VWTP packet, got %d", len(series.packets))
	}
	if ch.State() != vwtp.Idle {
		t.Fatalf("expected channel back to Idle after response, got %v", ch.State())
	}
	if len(n.notified) != 1 {
		t.Fatalf("expected NotifyResponse called once, got %d", len(n.notified))
	}
}
