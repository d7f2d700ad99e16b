package canbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/canlog"
	"github.com/anodyne74/candaemon/internal/dbc"
	"github.com/charmbracelet/log"
)

// entryKind tags one dispatch-queue message: a directly
// carried frame (injected RX, or a completed TX handed up by Write), or one
// of the driver's asynchronous bus-indexed notifications.
type entryKind uint8

const (
	entryFrame entryKind = iota
	entryRxAvailable
	entryTxComplete
	entryError
)

type entry struct {
	kind  entryKind
	bus   int
	frame canframe.Frame
}

type namedCallback struct {
	name string
	fn   func(canframe.Frame)
}

// listener is a registered fan-out consumer: every listener receives RX,
// only ones that opted in also receive TX feedback.
type listener struct {
	id             uint64
	ch             chan canframe.Frame
	wantTxFeedback bool
}

// dbcBinding is the un-polled-frame decode hook attached to one bus: a
// locked DBC file, a predicate asking the Polling Engine whether it already
// claimed this id (so the router does not double-report polled replies),
// and the sink that receives decoded signals.
type dbcBinding struct {
	file      *dbc.File
	pollClaim func(bus int, id uint32) bool
	sink      func(bus int, msg dbc.DecodedMessage)
}

// Router is the Frame Router: single owner of the dispatch queue, sole
// consumer goroutine, and the one active Frame Logger.
type Router struct {
	queue chan entry

	mu         sync.Mutex
	ports      map[int]*BusPort
	rxCbs      []namedCallback
	txCbs      []namedCallback
	listeners  []*listener
	nextListID uint64
	dbcBind    map[int]dbcBinding

	logger *canlog.Logger

	dispatchRxOverflow uint32
	dispatchTxOverflow uint32
}

func NewRouter(queueSize int, logger *canlog.Logger) *Router {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = canlog.New()
	}
	return &Router{
		queue:   make(chan entry, queueSize),
		ports:   make(map[int]*BusPort),
		dbcBind: make(map[int]dbcBinding),
		logger:  logger,
	}
}

func (r *Router) Logger() *canlog.Logger { return r.logger }

// AttachPort registers a Bus Port so the router can pull frames from its
// driver when an RxAvailable notification arrives.
func (r *Router) AttachPort(p *BusPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.Bus] = p
}

func (r *Router) DetachPort(bus int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, bus)
}

// RegisterRxCallback adds an RX callback under name, invoked synchronously
// in registration order for every RX frame. Re-registering an
// existing name replaces its function.
func (r *Router) RegisterRxCallback(name string, fn func(canframe.Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rxCbs {
		if r.rxCbs[i].name == name {
			r.rxCbs[i].fn = fn
			return
		}
	}
	r.rxCbs = append(r.rxCbs, namedCallback{name: name, fn: fn})
}

// DeregisterRxCallback is idempotent: removing an unknown name is a no-op.
func (r *Router) DeregisterRxCallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rxCbs {
		if r.rxCbs[i].name == name {
			r.rxCbs = append(r.rxCbs[:i], r.rxCbs[i+1:]...)
			return
		}
	}
}

func (r *Router) RegisterTxCallback(name string, fn func(canframe.Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txCbs {
		if r.txCbs[i].name == name {
			r.txCbs[i].fn = fn
			return
		}
	}
	r.txCbs = append(r.txCbs, namedCallback{name: name, fn: fn})
}

func (r *Router) DeregisterTxCallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txCbs {
		if r.txCbs[i].name == name {
			r.txCbs = append(r.txCbs[:i], r.txCbs[i+1:]...)
			return
		}
	}
}

// AddListener registers a non-blocking fan-out consumer with a bounded
// channel of the given buffer size; wantTxFeedback opts into TX deliveries
// as well as RX.
func (r *Router) AddListener(bufSize int, wantTxFeedback bool) (handle uint64, ch <-chan canframe.Frame) {
	if bufSize <= 0 {
		bufSize = 32
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextListID++
	l := &listener{id: r.nextListID, ch: make(chan canframe.Frame, bufSize), wantTxFeedback: wantTxFeedback}
	r.listeners = append(r.listeners, l)
	return l.id, l.ch
}

// RemoveListener is idempotent.
func (r *Router) RemoveListener(handle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l.id == handle {
			close(l.ch)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// BindDBC attaches a decode hook for un-polled frames on bus.
func (r *Router) BindDBC(bus int, file *dbc.File, pollClaim func(bus int, id uint32) bool, sink func(bus int, msg dbc.DecodedMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbcBind[bus] = dbcBinding{file: file, pollClaim: pollClaim, sink: sink}
}

func (r *Router) UnbindDBC(bus int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dbcBind, bus)
}

// InjectFrame submits a directly-carried frame (CLI "rx" simulate, or a
// completed TX from BusPort.Write) into the dispatch queue. Returns false if
// the queue was full; the router's own RX or TX dispatch overflow counter
// (see DispatchOverflow) is bumped instead.
func (r *Router) InjectFrame(bus int, frame canframe.Frame) bool {
	select {
	case r.queue <- entry{kind: entryFrame, bus: bus, frame: frame}:
		return true
	default:
		if frame.Origin == canframe.OriginTx {
			atomic.AddUint32(&r.dispatchTxOverflow, 1)
		} else {
			atomic.AddUint32(&r.dispatchRxOverflow, 1)
		}
		return false
	}
}

func (r *Router) notifyRxAvailable(bus int) {
	select {
	case r.queue <- entry{kind: entryRxAvailable, bus: bus}:
	default:
		atomic.AddUint32(&r.dispatchRxOverflow, 1)
	}
}

func (r *Router) notifyTxComplete(bus int) {
	select {
	case r.queue <- entry{kind: entryTxComplete, bus: bus}:
	default:
		atomic.AddUint32(&r.dispatchTxOverflow, 1)
	}
}

func (r *Router) notifyError(bus int) {
	select {
	case r.queue <- entry{kind: entryError, bus: bus}:
	default:
		atomic.AddUint32(&r.dispatchRxOverflow, 1)
	}
}

// DispatchOverflow reports the dispatch-queue drop counters, separate from
// any one bus's counters.
func (r *Router) DispatchOverflow() (rx, tx uint32) {
	return atomic.LoadUint32(&r.dispatchRxOverflow), atomic.LoadUint32(&r.dispatchTxOverflow)
}

// Run drains the dispatch queue until ctx is cancelled. It is the sole
// consumer of that queue: RX/TX counting, logging, and fan-out of the
// dequeued entries happen here.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.queue:
			r.handle(e)
		}
	}
}

func (r *Router) handle(e entry) {
	switch e.kind {
	case entryFrame:
		if e.frame.Origin == canframe.OriginTx {
			r.handleTxFrame(e.bus, e.frame)
		} else {
			r.handleRxFrame(e.bus, e.frame)
		}
	case entryRxAvailable:
		r.drainDriverRx(e.bus)
	case entryTxComplete:
		r.mu.Lock()
		port := r.ports[e.bus]
		r.mu.Unlock()
		if port != nil {
			port.onTxCompleteAsync()
		}
		r.fanoutTxCallbacksOnly(e.bus)
	case entryError:
		r.mu.Lock()
		port := r.ports[e.bus]
		r.mu.Unlock()
		if port != nil {
			port.onDriverError()
		}
	}
}

// drainDriverRx pulls every frame currently buffered in the bus's driver,
// following an RxAvailable notification.
func (r *Router) drainDriverRx(bus int) {
	r.mu.Lock()
	port := r.ports[bus]
	r.mu.Unlock()
	if port == nil {
		return
	}
	for {
		frame, ok, err := port.driver.ReadFrame()
		if err != nil {
			port.noteRxError()
			log.Warn("canbus: driver read failed", "bus", bus, "err", err)
			return
		}
		if !ok {
			return
		}
		r.handleRxFrame(bus, frame)
	}
}

func (r *Router) handleRxFrame(bus int, frame canframe.Frame) {
	r.mu.Lock()
	port := r.ports[bus]
	rxCbs := append([]namedCallback(nil), r.rxCbs...)
	listeners := append([]*listener(nil), r.listeners...)
	binding, hasBinding := r.dbcBind[bus]
	r.mu.Unlock()

	if port != nil {
		port.noteRx()
	}
	r.logger.LogFrame(frame)

	for _, cb := range rxCbs {
		cb.fn(frame)
	}
	for _, l := range listeners {
		select {
		case l.ch <- frame:
		default:
		}
	}

	if hasBinding && binding.file != nil {
		claimed := binding.pollClaim != nil && binding.pollClaim(bus, frame.ID)
		if !claimed {
			if msg, ok := binding.file.DecodeFrame(frame.ID, frame.Data); ok && binding.sink != nil {
				binding.sink(bus, msg)
			}
		}
	}
}

func (r *Router) handleTxFrame(bus int, frame canframe.Frame) {
	r.mu.Lock()
	port := r.ports[bus]
	txCbs := append([]namedCallback(nil), r.txCbs...)
	listeners := append([]*listener(nil), r.listeners...)
	r.mu.Unlock()

	if port != nil {
		port.noteTx()
	}
	r.logger.LogFrame(frame)

	for _, cb := range txCbs {
		cb.fn(frame)
	}
	for _, l := range listeners {
		if !l.wantTxFeedback {
			continue
		}
		select {
		case l.ch <- frame:
		default:
		}
	}
}

func (r *Router) fanoutTxCallbacksOnly(bus int) {
	r.mu.Lock()
	txCbs := append([]namedCallback(nil), r.txCbs...)
	r.mu.Unlock()
	if len(txCbs) == 0 {
		return
	}
	placeholder := canframe.New(bus, 0, canframe.Standard, nil)
	placeholder.Origin = canframe.OriginTx
	for _, cb := range txCbs {
		cb.fn(placeholder)
	}
}
