// Package supervisor implements the Poller Supervisor (C11): the
// process-wide owner of the poll dispatch queue, timer, global throttle/
// separation/keepalive parameters, pause/resume flags, RX filter and the
// per-bus Bus Port list.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canbus"
	"github.com/anodyne74/candaemon/internal/canlog"
	"github.com/anodyne74/candaemon/internal/poll"
	"github.com/charmbracelet/log"
)

// DefaultTickMs is the supervisor timer's primary tick period.
const DefaultTickMs = 1000 * time.Millisecond

// busEntry is one bus's registration: its port (for shutdown power-down),
// its poll engine (for Tick/SetSequenceMax/SetState) and series list (for
// Clear on shutdown).
type busEntry struct {
	port         *canbus.BusPort
	engine       *poll.BusEngine
	list         *poll.List
	autoPowerOff bool
}

// Supervisor is the C11 Poller Supervisor.
type Supervisor struct {
	tickMs         time.Duration
	secondaryTicks int

	cmdQueue chan command
	doneCh   chan struct{}

	statsWindow time.Duration
	stats       *Stats

	mu           sync.Mutex
	buses        map[int]*busEntry
	filter       canlog.Filter
	userPaused   bool
	systemPaused bool
	throttle     int
	responseSep  time.Duration
	keepalive    time.Duration
	successSep   time.Duration
}

// Options configures a new Supervisor. Zero values fall back to spec
// defaults (1000ms tick, no secondary ticks, stats disabled).
type Options struct {
	TickMs         time.Duration
	SecondaryTicks int
	StatsWindow    time.Duration // 0 disables the rolling statistics window
}

// New creates a Supervisor; call Start to spawn its consumer goroutine.
func New(opts Options) *Supervisor {
	tick := opts.TickMs
	if tick <= 0 {
		tick = DefaultTickMs
	}
	s := &Supervisor{
		tickMs:         tick,
		secondaryTicks: opts.SecondaryTicks,
		cmdQueue:       make(chan command, 64),
		doneCh:         make(chan struct{}),
		statsWindow:    opts.StatsWindow,
		buses:          make(map[int]*busEntry),
	}
	if opts.StatsWindow > 0 {
		s.stats = NewStats(opts.StatsWindow)
	}
	return s
}

// AddBus registers a bus's port, engine and series list with the
// supervisor. Must be called before Start.
func (s *Supervisor) AddBus(bus int, port *canbus.BusPort, engine *poll.BusEngine, list *poll.List, autoPowerOff bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses[bus] = &busEntry{port: port, engine: engine, list: list, autoPowerOff: autoPowerOff}
}

// SetFilter replaces the supervisor's RX filter (same [bus:]id[-id] range
// semantics as the Frame Logger's filter).
func (s *Supervisor) SetFilter(f canlog.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
}

// Passes reports whether a frame should be considered by the poller's
// supervised path, per the current RX filter.
func (s *Supervisor) Passes(bus int, id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Passes(bus, id)
}

// Start spawns the single consumer goroutine that drains the command queue
// and drives the timer. It returns once the goroutine is running.
func (s *Supervisor) Start() {
	go s.run()
}

func (s *Supervisor) run() {
	defer close(s.doneCh)

	interval := s.tickMs
	ticksPerPrimary := 1
	if s.secondaryTicks > 1 {
		interval = s.tickMs / time.Duration(s.secondaryTicks)
		ticksPerPrimary = s.secondaryTicks
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case cmd := <-s.cmdQueue:
			if done, shuttingDown := s.apply(cmd); shuttingDown {
				close(done)
				return
			}
		case <-ticker.C:
			count++
			class := poll.Secondary
			if count%ticksPerPrimary == 0 {
				class = poll.Primary
			}
			s.dispatchTick(class)
		}
	}
}

func (s *Supervisor) dispatchTick(class poll.EventClass) {
	s.mu.Lock()
	paused := s.userPaused || s.systemPaused
	entries := make(map[int]*busEntry, len(s.buses))
	for k, v := range s.buses {
		entries[k] = v
	}
	s.mu.Unlock()
	if paused {
		return
	}

	for bus, e := range entries {
		start := s.stats.begin()
		dispatched := e.engine.Tick(class)
		if dispatched {
			s.stats.record(start, EntryPoll, bus, int(e.engine.Ticker()))
		}
	}
}

// apply runs on the consumer goroutine only, so bus-engine/list mutation
// here never races Tick.
func (s *Supervisor) apply(cmd command) (done chan struct{}, shuttingDown bool) {
	switch c := cmd.(type) {
	case pauseCmd:
		s.mu.Lock()
		if c.source == SourceUser {
			s.userPaused = true
		} else {
			s.systemPaused = true
		}
		s.mu.Unlock()
	case resumeCmd:
		s.mu.Lock()
		if c.source == SourceUser {
			s.userPaused = false
		} else {
			s.systemPaused = false
		}
		s.mu.Unlock()
	case throttleCmd:
		s.mu.Lock()
		s.throttle = c.n
		for _, e := range s.buses {
			e.engine.SetSequenceMax(c.n)
		}
		s.mu.Unlock()
	case responseSepCmd:
		s.mu.Lock()
		s.responseSep = c.d
		s.mu.Unlock()
	case keepaliveCmd:
		s.mu.Lock()
		s.keepalive = c.d
		s.mu.Unlock()
	case successSepCmd:
		s.mu.Lock()
		s.successSep = c.d
		s.mu.Unlock()
	case resetTimerCmd:
		s.mu.Lock()
		for _, e := range s.buses {
			e.engine.SetState(c.mode)
		}
		s.mu.Unlock()
	case shutdownCmd:
		s.doShutdown()
		return c.done, true
	case responseCmd:
		s.mu.Lock()
		e, ok := s.buses[c.bus]
		s.mu.Unlock()
		if ok {
			e.engine.ResponseReceived()
			e.engine.Tick(poll.Successful)
		}
	}
	return nil, false
}

// NotifyResponse enqueues an asynchronously-arrived response (or failure)
// for bus: the next consumer-goroutine turn clears poll_wait and re-ticks
// the engine with a Successful event, without calling poll.BusEngine.Tick
// from whatever goroutine delivered the frame (the Frame Router's, not the
// supervisor's own). This is reqtransport.Notifier's sole method.
func (s *Supervisor) NotifyResponse(bus int) { s.enqueue(responseCmd{bus: bus}) }

func (s *Supervisor) doShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for bus, e := range s.buses {
		e.list.Clear()
		if e.autoPowerOff {
			if err := e.port.Stop(); err != nil {
				log.Warn("supervisor: bus stop failed during shutdown", "bus", bus, "err", err)
			}
		}
	}
}

// Enqueue places a command on the dispatch queue; it never blocks the
// caller on anything but queue capacity.
func (s *Supervisor) enqueue(cmd command) { s.cmdQueue <- cmd }

func (s *Supervisor) Pause(source Source)        { s.enqueue(pauseCmd{source}) }
func (s *Supervisor) Resume(source Source)       { s.enqueue(resumeCmd{source}) }
func (s *Supervisor) Throttle(sequenceMax int)   { s.enqueue(throttleCmd{sequenceMax}) }
func (s *Supervisor) ResponseSep(d time.Duration) { s.enqueue(responseSepCmd{d}) }
func (s *Supervisor) Keepalive(d time.Duration)  { s.enqueue(keepaliveCmd{d}) }
func (s *Supervisor) SuccessSep(d time.Duration) { s.enqueue(successSepCmd{d}) }
func (s *Supervisor) ResetTimer(mode poll.State) { s.enqueue(resetTimerCmd{mode}) }

// Paused reports the combined user/system pause state.
func (s *Supervisor) Paused() (user, system bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPaused, s.systemPaused
}

// CurrentThrottle is the global sequence_max last applied by Throttle, for
// status reporting (the `poller status` CLI surface).
func (s *Supervisor) CurrentThrottle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle
}

// ResponseSeparation, KeepaliveInterval and SuccessSeparation are the
// current global parameters, for the transport layer (ISO-TP flow control,
// VWTP channel keepalive) to consult when starting a request.
func (s *Supervisor) ResponseSeparation() time.Duration { s.mu.Lock(); defer s.mu.Unlock(); return s.responseSep }
func (s *Supervisor) KeepaliveInterval() time.Duration  { s.mu.Lock(); defer s.mu.Unlock(); return s.keepalive }
func (s *Supervisor) SuccessSeparation() time.Duration  { s.mu.Lock(); defer s.mu.Unlock(); return s.successSep }

// Shutdown enqueues Shutdown and blocks until the consumer goroutine has
// fully drained and exited, or ctx is cancelled first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	s.enqueue(shutdownCmd{done: done})
	select {
	case <-done:
		return nil
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: shutdown: %w", ctx.Err())
	}
}
