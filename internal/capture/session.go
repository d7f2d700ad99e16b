// Package capture replays and records CRTD-format trace files: the same
// line format internal/canlog writes from a live Frame Router, fed back in
// for integration tests and the bus simulator.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anodyne74/candaemon/internal/canframe"
)

// TimedFrame is one replayed frame plus its recorded offset from the start
// of the session.
type TimedFrame struct {
	Offset time.Duration
	Frame  canframe.Frame
}

// Session is a parsed CRTD trace: an ordered list of frames with their
// recorded timestamps, ready for replay into a Frame Router.
type Session struct {
	Path      string
	StartTime time.Time
	EndTime   time.Time
	Frames    []TimedFrame
}

// LoadSession parses a CRTD file written by canlog.CRTDSink. Status and Text
// lines are skipped; malformed frame lines are reported with their line
// number rather than silently dropped.
func LoadSession(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	defer f.Close()

	s := &Session{Path: path}
	var first, last float64
	haveFirst := false
	lineNo := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("capture: %s:%d: bad timestamp %q", path, lineNo, fields[0])
		}
		if !haveFirst {
			first = ts
			haveFirst = true
		}
		last = ts

		switch fields[1] {
		case "Status", "Text":
			continue
		case "Rx", "Tx":
			tf, err := parseFrameLine(fields)
			if err != nil {
				return nil, fmt.Errorf("capture: %s:%d: %w", path, lineNo, err)
			}
			tf.Offset = time.Duration((ts - first) * float64(time.Second))
			s.Frames = append(s.Frames, tf)
		default:
			continue
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", path, err)
	}

	s.StartTime = time.Unix(0, 0).Add(time.Duration(first * float64(time.Second)))
	s.EndTime = time.Unix(0, 0).Add(time.Duration(last * float64(time.Second)))
	return s, nil
}

// parseFrameLine reads `dir bus id dlc data...` (the timestamp was already
// consumed by the caller).
func parseFrameLine(fields []string) (TimedFrame, error) {
	if len(fields) < 4 {
		return TimedFrame{}, fmt.Errorf("short frame line")
	}
	dir := fields[1]
	bus, err := strconv.Atoi(fields[2])
	if err != nil {
		return TimedFrame{}, fmt.Errorf("bad bus %q", fields[2])
	}
	id, err := strconv.ParseUint(fields[3], 16, 32)
	if err != nil {
		return TimedFrame{}, fmt.Errorf("bad id %q", fields[3])
	}
	if len(fields) < 5 {
		return TimedFrame{}, fmt.Errorf("missing dlc")
	}
	dlc, err := strconv.Atoi(fields[4])
	if err != nil {
		return TimedFrame{}, fmt.Errorf("bad dlc %q", fields[4])
	}
	data := make([]byte, 0, dlc)
	for i := 0; i < dlc && 5+i < len(fields); i++ {
		b, err := strconv.ParseUint(fields[5+i], 16, 8)
		if err != nil {
			return TimedFrame{}, fmt.Errorf("bad data byte %q", fields[5+i])
		}
		data = append(data, byte(b))
	}

	format := canframe.Standard
	if id > 0x7FF {
		format = canframe.Extended
	}
	frame := canframe.New(bus, uint32(id), format, data)
	if dir == "Tx" {
		frame.Origin = canframe.OriginTx
	}
	return TimedFrame{Frame: frame}, nil
}

// Duration reports the recorded span of the session.
func (s *Session) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
