package simulator

import (
	"context"

	"github.com/anodyne74/candaemon/internal/capture"
)

// PlaySession feeds a previously recorded capture.Session into bus by
// injecting each frame as it comes due, using the session's own Replay
// scheduling. It blocks until the session finishes or ctx is cancelled, so
// callers typically run it in its own goroutine.
func PlaySession(ctx context.Context, bus *Bus, session *capture.Session, realtime bool, speed float64) {
	session.Replay(ctx, func(_ int, tf capture.TimedFrame) {
		bus.InjectFrames(tf.Frame)
	}, realtime, speed)
}
