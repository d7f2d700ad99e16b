package supervisor

import (
	"time"

	"github.com/anodyne74/candaemon/internal/poll"
)

// Source distinguishes who asked for a pause: the user (CLI/API) or the
// supervisor itself (e.g. during shutdown). Polling only runs while both
// flags are clear.
type Source uint8

const (
	SourceUser Source = iota
	SourceSystem
)

// command is the dispatch-queue entry type: every control operation is
// enqueued rather than applied directly, so it serialises with frame
// delivery on the consumer goroutine instead of racing it.
type command interface{ isCommand() }

type pauseCmd struct{ source Source }
type resumeCmd struct{ source Source }
type throttleCmd struct{ n int }
type responseSepCmd struct{ d time.Duration }
type keepaliveCmd struct{ d time.Duration }
type successSepCmd struct{ d time.Duration }
type resetTimerCmd struct{ mode poll.State }
type shutdownCmd struct{ done chan struct{} }
type responseCmd struct{ bus int }

func (pauseCmd) isCommand()       {}
func (resumeCmd) isCommand()      {}
func (throttleCmd) isCommand()    {}
func (responseSepCmd) isCommand() {}
func (keepaliveCmd) isCommand()   {}
func (successSepCmd) isCommand()  {}
func (resetTimerCmd) isCommand()  {}
func (shutdownCmd) isCommand()    {}
func (responseCmd) isCommand()    {}
