package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/canlog"
)

// Recorder drains a Frame Router listener into a CRTDSink for as long as it
// runs, giving capture sessions the same on-disk format the live logger
// produces.
type Recorder struct {
	sink *canlog.CRTDSink

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRecorder opens path as a fresh CRTD file.
func NewRecorder(path string) (*Recorder, error) {
	sink, err := canlog.NewCRTDSink(path)
	if err != nil {
		return nil, fmt.Errorf("capture: new recorder: %w", err)
	}
	return &Recorder{sink: sink}, nil
}

// Start begins draining frames delivered on ch until ctx is cancelled, Stop
// is called, or ch is closed.
func (r *Recorder) Start(ctx context.Context, frames <-chan canframe.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("capture: recorder already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				r.sink.LogFrame(f)
			}
		}
	}()
	return nil
}

// Stop halts draining, flushes and closes the underlying file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("capture: recorder is not running")
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	return r.sink.Close()
}

func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
