package poll

import (
	"sync"
	"time"
)

type namedSeries struct {
	name         string
	series       Series
	blocking     bool
	lastStatus   Outcome
	lastStatusAt time.Time
}

// List is the Poll Series List: an ordered collection of named series.
// Priority ("!v.single") series are inserted at the head; while the head
// entry is blocking, it alone is consulted, which is exactly what gives a
// head-blocking series exclusive advancement over everything behind it.
// Non-blocking entries round-robin behind it via cursor, so more than one
// periodic/one-off series can share a bus without the first one starving
// the rest.
type List struct {
	mu      sync.Mutex
	entries []*namedSeries
	cursor  int
}

func NewList() *List {
	return &List{}
}

// InsertHead adds name at the front of the list (used for the priority
// "!v.single" blocking series).
func (l *List) InsertHead(name string, s Series, blocking bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(name)
	l.entries = append([]*namedSeries{{name: name, series: s, blocking: blocking}}, l.entries...)
}

// InsertTail appends name at the back of the list (periodic series).
func (l *List) InsertTail(name string, s Series, blocking bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(name)
	l.entries = append(l.entries, &namedSeries{name: name, series: s, blocking: blocking})
}

// Remove is idempotent.
func (l *List) Remove(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(name)
}

func (l *List) removeLocked(name string) bool {
	for i, e := range l.entries {
		if e.name == name {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *List) Get(name string) (Series, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.name == name {
			return e.series, true
		}
	}
	return nil, false
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops every series, periodic or blocking; used by the supervisor's
// shutdown sequence.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Next consults the head entry first: if it's blocking (the "!v.single"
// priority series), it alone is consulted and nothing behind it advances
// until it's done. Otherwise Next round-robins across the non-blocking
// entries via cursor, skipping past one that's NotReady/StillAtEnd (or
// ReachedEnd with nothing left to repeat) so a second periodic or one-off
// series isn't starved behind the first. A series that reports Removing()
// after the call is dropped from the list immediately.
func (l *List) Next(ticker uint32, state State) (outcome Outcome, name string, series Series) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		l.cursor = 0
		return NotReady, "", nil
	}

	if l.entries[0].blocking {
		head := l.entries[0]
		o := head.series.Next(ticker, state)
		head.lastStatus = o
		head.lastStatusAt = time.Now()
		if head.series.Removing() {
			l.entries = l.entries[1:]
			l.cursor = 0
		}
		return o, head.name, head.series
	}

	if l.cursor >= len(l.entries) {
		l.cursor = 0
	}
	start := l.cursor
	for {
		ns := l.entries[l.cursor]
		o := ns.series.Next(ticker, state)
		ns.lastStatus = o
		ns.lastStatusAt = time.Now()
		name, series = ns.name, ns.series

		if ns.series.Removing() {
			l.entries = append(l.entries[:l.cursor], l.entries[l.cursor+1:]...)
			if l.cursor >= len(l.entries) {
				l.cursor = 0
			}
			return o, name, series
		}

		skip := o == NotReady || o == StillAtEnd || (o == ReachedEnd && !series.HasRepeat())
		if !skip {
			return o, name, series
		}

		l.cursor++
		if l.cursor >= len(l.entries) {
			l.cursor = 0
		}
		if l.cursor == start {
			return o, name, series
		}
	}
}
