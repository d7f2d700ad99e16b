package capture

import (
	"context"
	"time"
)

// Replay feeds s's frames into inject in recorded order. inject is typically
// a canbus.Router's InjectFrame, adapted to this signature by the caller.
// When realtime is
// true, each frame is delayed by its recorded offset (scaled by speed, where
// speed > 1 plays faster than real time); when false, frames are injected
// back-to-back as fast as inject accepts them.
func (s *Session) Replay(ctx context.Context, inject func(bus int, frame TimedFrame), realtime bool, speed float64) {
	if speed <= 0 {
		speed = 1
	}
	start := time.Now()
	for _, tf := range s.Frames {
		if realtime {
			target := time.Duration(float64(tf.Offset) / speed)
			wait := target - time.Since(start)
			if wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		inject(tf.Frame.Bus, tf)
	}
}
