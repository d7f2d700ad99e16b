package canlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/charmbracelet/log"
)

// StatusKind classifies a status log entry. Error entries are subject to
// checksum-based suppression by the caller (Bus Port).
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusWarning
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	default:
		return "info"
	}
}

// Sink is a pluggable frame/status/text destination. Replace implementations
// for "trace", "crtd", or an external extension type.
type Sink interface {
	Type() string
	LogFrame(f canframe.Frame) error
	LogStatus(bus int, kind StatusKind, text string) error
	LogText(text string) error
	Flush() error
	Close() error
}

// replaceGrace is the delay the Logger waits after stopping the previous
// sink before deleting it, so in-flight writes finish.
const replaceGrace = 100 * time.Millisecond

// Logger is the single active Frame Logger: one sink at a time, a
// filter guarded separately from the sink so the RX hot path never blocks on
// reconfiguration.
type Logger struct {
	filterMu sync.Mutex
	filter   Filter

	sinkMu sync.Mutex
	sink   Sink
}

func New() *Logger {
	return &Logger{}
}

// SetFilter atomically replaces the active filter. The RX hot path uses
// TryPasses instead of taking this same lock, so a reconfiguration in
// progress never blocks frame delivery.
func (l *Logger) SetFilter(f Filter) {
	l.filterMu.Lock()
	defer l.filterMu.Unlock()
	l.filter = f
}

func (l *Logger) AddFilter(r Range) {
	l.filterMu.Lock()
	defer l.filterMu.Unlock()
	l.filter.Add(r)
}

func (l *Logger) ClearFilter() {
	l.filterMu.Lock()
	defer l.filterMu.Unlock()
	l.filter.Clear()
}

// TryPasses attempts a non-blocking filter check. On lock contention it
// fails open (passes the frame) rather than drop it: if the filter is
// unlocked mid-reconfiguration, the frame is allowed through rather than
// dropped, using a best-effort TryLock over the mutex guarding the filter.
func (l *Logger) TryPasses(bus int, id uint32) bool {
	if !l.filterMu.TryLock() {
		return true
	}
	defer l.filterMu.Unlock()
	return l.filter.Passes(bus, id)
}

// Install performs the stop -> flush -> delete -> install sequence, replacing
// whatever sink (if any) is currently active.
func (l *Logger) Install(sink Sink) error {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()

	if l.sink != nil {
		if err := l.sink.Flush(); err != nil {
			log.Warn("canlog: flush of previous sink failed", "err", err)
		}
		time.Sleep(replaceGrace)
		if err := l.sink.Close(); err != nil {
			log.Warn("canlog: close of previous sink failed", "err", err)
		}
	}
	l.sink = sink
	return nil
}

// Remove stops and discards the active sink, reverting to "off".
func (l *Logger) Remove() error {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	if l.sink == nil {
		return nil
	}
	err := l.sink.Flush()
	time.Sleep(replaceGrace)
	if cerr := l.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	l.sink = nil
	return err
}

// ActiveType returns the type name of the active sink, or "off".
func (l *Logger) ActiveType() string {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	if l.sink == nil {
		return "off"
	}
	return l.sink.Type()
}

// LogFrame forwards f to the active sink if present and the filter passes.
func (l *Logger) LogFrame(f canframe.Frame) {
	if !l.TryPasses(f.Bus, f.ID) {
		return
	}
	l.sinkMu.Lock()
	sink := l.sink
	l.sinkMu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.LogFrame(f); err != nil {
		log.Warn("canlog: frame log write failed", "err", err)
	}
}

func (l *Logger) LogStatus(bus int, kind StatusKind, text string) {
	l.sinkMu.Lock()
	sink := l.sink
	l.sinkMu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.LogStatus(bus, kind, text); err != nil {
		log.Warn("canlog: status log write failed", "err", err)
	}
}

func (l *Logger) LogText(text string) {
	l.sinkMu.Lock()
	sink := l.sink
	l.sinkMu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.LogText(text); err != nil {
		log.Warn("canlog: text log write failed", "err", err)
	}
}

// TraceSink emits frames and status transitions to the in-process structured
// logger at debug/verbose levels.
type TraceSink struct {
	logger *log.Logger
}

func NewTraceSink(logger *log.Logger) *TraceSink {
	if logger == nil {
		logger = log.Default()
	}
	return &TraceSink{logger: logger}
}

func (s *TraceSink) Type() string { return "trace" }

func (s *TraceSink) LogFrame(f canframe.Frame) error {
	dir := "rx"
	if f.Origin == canframe.OriginTx {
		dir = "tx"
	}
	s.logger.Debug("frame", "dir", dir, "bus", f.Bus, "id", fmt.Sprintf("%03X", f.ID), "dlc", f.DLC, "data", fmt.Sprintf("% X", f.Payload()))
	return nil
}

func (s *TraceSink) LogStatus(bus int, kind StatusKind, text string) error {
	switch kind {
	case StatusError:
		s.logger.Error("status", "bus", bus, "text", text)
	case StatusWarning:
		s.logger.Warn("status", "bus", bus, "text", text)
	default:
		s.logger.Info("status", "bus", bus, "text", text)
	}
	return nil
}

func (s *TraceSink) LogText(text string) error {
	s.logger.Debug(text)
	return nil
}

func (s *TraceSink) Flush() error { return nil }
func (s *TraceSink) Close() error { return nil }
