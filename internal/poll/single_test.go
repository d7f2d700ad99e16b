package poll

import (
	"testing"
	"time"
)

func TestSingleRequestTimesOutWithoutReply(t *testing.T) {
	list := NewList()
	single := NewSingle(list)

	_, err := single.Request(Entry{Name: "single", TxID: 0x7E0, RxID: 0x7E8}, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if list.Len() != 0 {
		t.Fatalf("expected the priority entry to be removed after timeout, list has %d entries", list.Len())
	}
}

func TestSingleRequestCompletesWhenResolved(t *testing.T) {
	list := NewList()
	single := NewSingle(list)

	go func() {
		for {
			series, ok := list.Get(SingleRequestName)
			if ok {
				series.(*OnceOffBlockingSeries).OnPacket(&Job{}, []byte{0x1A, 0xF8})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	data, err := single.Request(Entry{Name: "single", TxID: 0x7E0, RxID: 0x7E8}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 2 || data[0] != 0x1A {
		t.Fatalf("unexpected result: %v", data)
	}
}
