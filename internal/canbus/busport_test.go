package canbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anodyne74/candaemon/internal/canframe"
)

// fakeDriver is an in-memory stand-in for a transceiver, used to drive the
// Bus Port/Router pair without any real hardware.
type fakeDriver struct {
	mu       sync.Mutex
	started  bool
	mode     Mode
	speed    int
	sent     []canframe.Frame
	pending  []canframe.Frame
	busyOnce bool
	failTx   bool
}

func (d *fakeDriver) PowerOn() error  { return nil }
func (d *fakeDriver) PowerOff() error { return nil }

func (d *fakeDriver) Start(mode Mode, speed int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.mode = mode
	d.speed = speed
	return nil
}

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *fakeDriver) Transmit(frame canframe.Frame) (TransmitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failTx {
		return TransmitOK, errTxBoom
	}
	if d.busyOnce {
		d.busyOnce = false
		return TransmitBusy, nil
	}
	d.sent = append(d.sent, frame)
	return TransmitOK, nil
}

func (d *fakeDriver) ReadFrame() (canframe.Frame, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return canframe.Frame{}, false, nil
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, true, nil
}

func (d *fakeDriver) pushRx(f canframe.Frame) {
	d.mu.Lock()
	d.pending = append(d.pending, f)
	d.mu.Unlock()
}

type errBoom struct{ msg string }

func (e *errBoom) Error() string { return e.msg }

var errTxBoom = &errBoom{"tx boom"}

type alwaysOn struct{}

func (alwaysOn) VehicleOn(bus int) bool { return true }

func newTestPort(t *testing.T) (*BusPort, *Router, *fakeDriver, context.CancelFunc) {
	t.Helper()
	router := NewRouter(16, nil)
	driver := &fakeDriver{}
	port := NewBusPort(1, "test", router, driver, nil, nil, 8)

	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(ctx)
	return port, router, driver, cancel
}

func TestBusPortWriteStandardImmediate(t *testing.T) {
	port, router, driver, cancel := newTestPort(t)
	defer cancel()

	if err := port.Start(ModeActive, 500, nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got canframe.Frame
	var wg sync.WaitGroup
	wg.Add(1)
	router.RegisterTxCallback("test", func(f canframe.Frame) {
		got = f
		wg.Done()
	})

	res, err := port.WriteStandard(0x7E0, []byte{0x02, 0x01, 0x0C}, time.Second)
	if err != nil || res != WriteOK {
		t.Fatalf("Write = %v, %v", res, err)
	}
	wg.Wait()

	if got.ID != 0x7E0 || got.DLC != 3 {
		t.Fatalf("callback frame = %+v", got)
	}
	if len(driver.sent) != 1 {
		t.Fatalf("driver.sent = %d, want 1", len(driver.sent))
	}
	if port.Status().PacketsTx != 1 {
		t.Fatalf("PacketsTx = %d, want 1", port.Status().PacketsTx)
	}
}

func TestBusPortWriteQueuedOnBusy(t *testing.T) {
	port, _, driver, cancel := newTestPort(t)
	defer cancel()
	if err := port.Start(ModeActive, 500, nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	driver.mu.Lock()
	driver.busyOnce = true
	driver.mu.Unlock()

	res, err := port.WriteStandard(0x100, []byte{0x01}, time.Second)
	if err != nil || res != WriteQueued {
		t.Fatalf("Write = %v, %v, want Queued", res, err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if port.Status().PacketsTx == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queued frame never retried to completion, PacketsTx=%d", port.Status().PacketsTx)
}

func TestBusPortWriteFailWhenNotPowered(t *testing.T) {
	port, _, _, cancel := newTestPort(t)
	defer cancel()

	res, err := port.WriteStandard(0x100, []byte{0x01}, time.Second)
	if err == nil || res != WriteFail {
		t.Fatalf("Write on unpowered port = %v, %v, want Fail+error", res, err)
	}
}

func TestBusPortRxFanoutAndCounters(t *testing.T) {
	port, router, driver, cancel := newTestPort(t)
	defer cancel()
	if err := port.Start(ModeActive, 500, nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got canframe.Frame
	router.RegisterRxCallback("test", func(f canframe.Frame) {
		got = f
		wg.Done()
	})

	frame := canframe.New(1, 0x7E8, canframe.Standard, []byte{0x04, 0x41, 0x0C, 0x1A, 0xF8, 0x00, 0x00, 0x00})
	driver.pushRx(frame)
	router.notifyRxAvailable(1)

	wg.Wait()
	if !got.Equal(frame) {
		t.Fatalf("rx callback frame = %+v, want %+v", got, frame)
	}
	if port.Status().PacketsRx != 1 {
		t.Fatalf("PacketsRx = %d, want 1", port.Status().PacketsRx)
	}
}

func TestBusPortClearStatus(t *testing.T) {
	port, _, _, cancel := newTestPort(t)
	defer cancel()
	port.noteRx()
	port.noteTx()
	if port.Status().PacketsRx == 0 {
		t.Fatalf("expected counters to have advanced")
	}
	port.ClearStatus()
	s := port.Status()
	if s.PacketsRx != 0 || s.PacketsTx != 0 {
		t.Fatalf("ClearStatus left non-zero counters: %+v", s)
	}
}

func TestBusPortListenerNonBlockingDelivery(t *testing.T) {
	port, router, driver, cancel := newTestPort(t)
	defer cancel()
	if err := port.Start(ModeActive, 500, nil, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, ch := router.AddListener(1, false)

	for i := 0; i < 5; i++ {
		frame := canframe.New(1, uint32(0x100+i), canframe.Standard, []byte{byte(i)})
		driver.pushRx(frame)
		router.notifyRxAvailable(1)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("listener received nothing")
	}
	// Remaining frames may have been dropped (buffer size 1): this must not
	// deadlock or panic, which is the actual property under test.
}
