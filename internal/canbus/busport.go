package canbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/canlog"
	"github.com/anodyne74/candaemon/internal/dbc"
	"github.com/anodyne74/candaemon/internal/errcode"
)

const (
	watchdogInterval = 10 * time.Second
	watchdogTimeout  = 60 * time.Second
)

// TxCompleteNotifier lets the Polling Engine learn immediately that an
// accepted write ultimately failed at the transceiver, instead of waiting
// out its response timeout.
type TxCompleteNotifier interface {
	TxFailed(bus int, frame canframe.Frame)
}

// BusPort is one physical CAN bus: mode, speed, bounded TX queue, status
// counters, watchdog, and the currently attached (locked) DBC file.
type BusPort struct {
	Bus  int
	Name string

	router *Router
	driver Driver
	vonSig VehicleOnSignal
	txNote TxCompleteNotifier

	mu             sync.Mutex
	mode           Mode
	speed          int
	power          bool
	status         Counters
	lastStatusSum  uint64
	lastRx         time.Time
	watchdogCancel context.CancelFunc

	dbcStore *dbc.Store
	dbcName  string
	dbcFile  *dbc.File

	txQueue   chan canframe.Frame
	txQueueWG sync.WaitGroup
}

// NewBusPort wires a Bus Port to its Router (for logging/fan-out/driver
// retrieval) and its Driver (the downward transceiver).
func NewBusPort(bus int, name string, router *Router, driver Driver, vehicleOn VehicleOnSignal, txNote TxCompleteNotifier, txQueueSize int) *BusPort {
	if txQueueSize <= 0 {
		txQueueSize = 32
	}
	p := &BusPort{
		Bus:     bus,
		Name:    name,
		router:  router,
		driver:  driver,
		vonSig:  vehicleOn,
		txNote:  txNote,
		txQueue: make(chan canframe.Frame, txQueueSize),
	}
	router.AttachPort(p)
	go p.drainTxQueue()
	return p
}

// Start resets counters and moves the port to the requested operational
// mode/speed, optionally attaching (locking) a DBC file.
func (p *BusPort) Start(mode Mode, speedKbps int, store *dbc.Store, dbcName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ClearStatusLocked()

	if store != nil && dbcName != "" {
		f, err := store.Lock(dbcName)
		if err != nil {
			return err
		}
		p.detachDBCLocked()
		p.dbcStore = store
		p.dbcName = dbcName
		p.dbcFile = f
		p.router.BindDBC(p.Bus, f, nil, nil)
	}

	if err := p.driver.Start(mode, speedKbps); err != nil {
		return fmt.Errorf("canbus: bus %d start: %w", p.Bus, err)
	}
	p.mode = mode
	p.speed = speedKbps
	p.power = true
	p.lastRx = time.Now()
	p.startWatchdogLocked()
	return nil
}

// Stop detaches any DBC, stops the driver, and transitions to Off. It does
// not touch the TX queue: frames already queued stay there and the queue
// drain keeps retrying them.
func (p *BusPort) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watchdogCancel != nil {
		p.watchdogCancel()
		p.watchdogCancel = nil
	}
	p.detachDBCLocked()
	if err := p.driver.Stop(); err != nil {
		return fmt.Errorf("canbus: bus %d stop: %w", p.Bus, err)
	}
	p.mode = ModeOff
	p.power = false
	return nil
}

func (p *BusPort) detachDBCLocked() {
	if p.dbcStore != nil && p.dbcName != "" {
		p.dbcStore.Unlock(p.dbcName)
	}
	p.dbcStore = nil
	p.dbcName = ""
	p.dbcFile = nil
	p.router.UnbindDBC(p.Bus)
}

// WriteResult is the outcome of BusPort.Write.
type WriteResult uint8

const (
	WriteOK WriteResult = iota
	WriteQueued
	WriteFail
)

// Write attempts an immediate transmit; if the driver is busy it enqueues
// with a bounded wait. A successful immediate or eventually-queued send is
// handed to the Router for counting, logging, and callback fan-out, always
// on the Router's single consumer goroutine.
func (p *BusPort) Write(frame canframe.Frame, maxWait time.Duration) (WriteResult, error) {
	p.mu.Lock()
	driver := p.driver
	powered := p.power
	p.mu.Unlock()

	if !powered {
		return WriteFail, errcode.ErrBusNotPowered
	}

	result, err := driver.Transmit(frame)
	if err != nil {
		return WriteFail, fmt.Errorf("%w: %v", errcode.ErrTxFailure, err)
	}

	switch result {
	case TransmitOK:
		p.submitTx(frame)
		return WriteOK, nil
	case TransmitBusy:
		select {
		case p.txQueue <- frame:
			p.mu.Lock()
			p.status.TxDelays++
			p.mu.Unlock()
			return WriteQueued, nil
		case <-time.After(maxWait):
			p.mu.Lock()
			p.status.TxOverflow++
			p.mu.Unlock()
			return WriteFail, errcode.ErrTxOverflow
		}
	default:
		return WriteFail, errcode.ErrTxFailure
	}
}

func (p *BusPort) submitTx(frame canframe.Frame) {
	frame.Bus = p.Bus
	frame.Origin = canframe.OriginTx
	if !p.router.InjectFrame(p.Bus, frame) {
		p.mu.Lock()
		p.status.TxOverflow++
		p.mu.Unlock()
	}
}

// drainTxQueue retries queued frames against the driver for as long as the
// port exists; it simply blocks on the channel, which is fine since Stop
// never closes it and the port is expected to live for the process
// lifetime.
func (p *BusPort) drainTxQueue() {
	for frame := range p.txQueue {
		for {
			result, err := p.driver.Transmit(frame)
			if err != nil {
				p.mu.Lock()
				p.status.TxErrors++
				p.mu.Unlock()
				if p.txNote != nil {
					p.txNote.TxFailed(p.Bus, frame)
				}
				break
			}
			if result == TransmitOK {
				p.submitTx(frame)
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// WriteStandard panics if len(data) > 8: an oversized payload is a
// programmer error.
func (p *BusPort) WriteStandard(id uint32, data []byte, maxWait time.Duration) (WriteResult, error) {
	frame := canframe.New(p.Bus, id, canframe.Standard, data)
	return p.Write(frame, maxWait)
}

func (p *BusPort) WriteExtended(id uint32, data []byte, maxWait time.Duration) (WriteResult, error) {
	frame := canframe.New(p.Bus, id, canframe.Extended, data)
	return p.Write(frame, maxWait)
}

// ClearStatus zeroes counters and resets the watchdog deadline.
func (p *BusPort) ClearStatus() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClearStatusLocked()
}

func (p *BusPort) ClearStatusLocked() {
	p.status = Counters{}
	p.lastStatusSum = 0
	p.lastRx = time.Now()
}

// Status returns a copy of the current counters.
func (p *BusPort) Status() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// LogStatus forwards to the Frame Logger, suppressing a repeated Error-kind
// entry when the status checksum has not changed since the last emission.
func (p *BusPort) LogStatus(kind canlog.StatusKind, text string) {
	p.mu.Lock()
	sum := p.status.checksum()
	suppress := kind == canlog.StatusError && sum == p.lastStatusSum
	if !suppress {
		p.lastStatusSum = sum
	}
	p.mu.Unlock()

	if suppress {
		return
	}
	p.router.Logger().LogStatus(p.Bus, kind, text)
}

func (p *BusPort) noteRx() {
	p.mu.Lock()
	p.status.PacketsRx++
	p.lastRx = time.Now()
	p.mu.Unlock()
}

func (p *BusPort) noteTx() {
	p.mu.Lock()
	p.status.PacketsTx++
	p.mu.Unlock()
}

func (p *BusPort) noteRxError() {
	p.mu.Lock()
	p.status.RxErrors++
	p.mu.Unlock()
}

func (p *BusPort) onTxCompleteAsync() {
	// Driver-initiated confirmation of a previously queued transmit; no
	// counter action beyond what submitTx already recorded.
}

func (p *BusPort) onDriverError() {
	p.mu.Lock()
	p.status.ErrorFlags++
	p.mu.Unlock()
	p.LogStatus(canlog.StatusError, "driver reported an error")
}

// RxAvailable, TxComplete, Error implement canbus.Events: the driver's only
// permitted way to reach into the core is enqueuing into the Router's
// dispatch queue.
func (p *BusPort) RxAvailable(bus int) { p.router.notifyRxAvailable(bus) }
func (p *BusPort) TxComplete(bus int)  { p.router.notifyTxComplete(bus) }
func (p *BusPort) Error(bus int)       { p.router.notifyError(bus) }

func (p *BusPort) startWatchdogLocked() {
	if p.watchdogCancel != nil {
		p.watchdogCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.watchdogCancel = cancel
	go p.watchdogLoop(ctx)
}

// watchdogLoop runs every 10s: if powered and the vehicle is on and there
// has been no RX for 60s, it saves counters, stops, starts again at the
// same mode/speed, restores counters, and bumps WatchdogResets. If the
// vehicle is off, the deadline is continuously refreshed so it can never
// spuriously fire once the vehicle comes back on.
func (p *BusPort) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkWatchdog()
		}
	}
}

func (p *BusPort) checkWatchdog() {
	p.mu.Lock()
	powered := p.power
	vehicleOn := p.vonSig != nil && p.vonSig.VehicleOn(p.Bus)
	idle := time.Since(p.lastRx)
	mode, speed := p.mode, p.speed
	p.mu.Unlock()

	if !powered {
		return
	}
	if !vehicleOn {
		p.mu.Lock()
		p.lastRx = time.Now()
		p.mu.Unlock()
		return
	}
	if idle < watchdogTimeout {
		return
	}

	p.mu.Lock()
	saved := p.status
	p.mu.Unlock()

	if err := p.driver.Stop(); err != nil {
		p.LogStatus(canlog.StatusError, fmt.Sprintf("watchdog stop failed: %v", err))
		return
	}
	if err := p.driver.Start(mode, speed); err != nil {
		p.LogStatus(canlog.StatusError, fmt.Sprintf("watchdog restart failed: %v", err))
		return
	}

	p.mu.Lock()
	p.status = saved
	p.status.WatchdogResets++
	p.lastRx = time.Now()
	p.mu.Unlock()
	p.LogStatus(canlog.StatusWarning, "watchdog auto-reset")
}
