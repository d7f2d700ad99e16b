package canlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/canframe"
)

// CRTDSink captures frames to a CRTD-format text file: lines of
// `timestamp direction bus id length data...`. Path changes flush and close
// the old file before opening the new one.
type CRTDSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

func NewCRTDSink(path string) (*CRTDSink, error) {
	s := &CRTDSink{}
	if err := s.SetPath(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CRTDSink) Type() string { return "crtd" }

// SetPath flushes and closes the current file (if any), then opens path,
// creating parent directories as needed.
func (s *CRTDSink) SetPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		if err := s.flushLocked(); err != nil {
			return err
		}
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("canlog: close previous capture file: %w", err)
		}
		s.file = nil
		s.w = nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("canlog: create capture directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("canlog: create capture file: %w", err)
	}
	s.path = path
	s.file = f
	s.w = bufio.NewWriter(f)
	return nil
}

func (s *CRTDSink) LogFrame(f canframe.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	dir := "Rx"
	if f.Origin == canframe.OriginTx {
		dir = "Tx"
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	_, err := fmt.Fprintf(s.w, "%.6f %s %d %X %d", ts, dir, f.Bus, f.ID, f.DLC)
	if err != nil {
		return err
	}
	for _, b := range f.Payload() {
		if _, err := fmt.Fprintf(s.w, " %02X", b); err != nil {
			return err
		}
	}
	_, err = s.w.WriteString("\n")
	return err
}

func (s *CRTDSink) LogStatus(bus int, kind StatusKind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	_, err := fmt.Fprintf(s.w, "%.6f Status %d %s %q\n", ts, bus, kind, text)
	return err
}

func (s *CRTDSink) LogText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	_, err := fmt.Fprintf(s.w, "%.6f Text %q\n", ts, text)
	return err
}

func (s *CRTDSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *CRTDSink) flushLocked() error {
	if s.w == nil {
		return nil
	}
	return s.w.Flush()
}

func (s *CRTDSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	err := s.file.Close()
	s.file = nil
	s.w = nil
	return err
}
