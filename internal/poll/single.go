package poll

import (
	"sync"
	"time"

	"github.com/anodyne74/candaemon/internal/errcode"
)

// SingleRequestName is the reserved Series List entry name for the priority
// blocking series poll_single installs.
const SingleRequestName = "!v.single"

// Single implements the per-bus poll_single priority API: it serialises
// concurrent callers with a lock, inserts a blocking series at the head of
// the bus's Series List, and waits on that series' Done channel (or a
// timeout) before removing it again.
type Single struct {
	mu   sync.Mutex
	list *List
}

func NewSingle(list *List) *Single {
	return &Single{list: list}
}

// Request sends one request and blocks for up to timeout for a reply. The
// caller must not invoke this from the poll consumer goroutine itself
// (deadlock: nothing would ever drain the queue to deliver the reply).
func (s *Single) Request(entry Entry, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := NewOnceOffBlockingSeries(entry)
	s.list.InsertHead(SingleRequestName, series, true)
	defer s.list.Remove(SingleRequestName)

	select {
	case <-series.Done():
		return series.Result()
	case <-time.After(timeout):
		return nil, errcode.ErrPollTimeout
	}
}
