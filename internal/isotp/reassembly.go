package isotp

import "fmt"

// RxAssembly accumulates a multi-frame RX payload: one First Frame
// announcing the total length, followed by Consecutive Frames each
// contributing their data bytes in order.
type RxAssembly struct {
	variant Variant
	total   int
	buf     []byte
	nextSeq int
}

// NewRxAssembly starts a reassembly for a First Frame announcing totalLen
// bytes (capped at MaxPayload) and its first chunk.
func NewRxAssembly(v Variant, totalLen int, firstChunk []byte) (*RxAssembly, error) {
	if totalLen > MaxPayload {
		totalLen = MaxPayload
	}
	a := &RxAssembly{variant: v, total: totalLen, buf: make([]byte, 0, totalLen), nextSeq: 1}
	if err := a.append(firstChunk); err != nil {
		return nil, err
	}
	return a, nil
}

// AppendConsecutive validates the monotonic 4-bit wraparound sequence number
// and appends data. done reports whether the reassembly is now complete.
func (a *RxAssembly) AppendConsecutive(seq int, data []byte) (done bool, err error) {
	if seq != a.nextSeq%16 {
		return false, fmt.Errorf("isotp: out-of-order consecutive frame: got seq %d, want %d", seq, a.nextSeq%16)
	}
	a.nextSeq++
	if err := a.append(data); err != nil {
		return false, err
	}
	return a.Remaining() == 0, nil
}

func (a *RxAssembly) append(data []byte) error {
	need := a.total - len(a.buf)
	if need <= 0 {
		return nil
	}
	if len(data) > need {
		data = data[:need]
	}
	a.buf = append(a.buf, data...)
	return nil
}

// Remaining is ml_remain, the bytes still owed before the payload is whole.
func (a *RxAssembly) Remaining() int { return a.total - len(a.buf) }

// Payload returns the bytes assembled so far.
func (a *RxAssembly) Payload() []byte { return a.buf }

// Total is the announced total length.
func (a *RxAssembly) Total() int { return a.total }

// Fragment splits payload into First-Frame + Consecutive-Frame chunks sized
// for the given variant, for driving the TX path.
func Fragment(v Variant, payload []byte) (first []byte, rest [][]byte) {
	ffLen := v.firstFrameDataLen()
	if len(payload) <= ffLen {
		return payload, nil
	}
	first = payload[:ffLen]
	remaining := payload[ffLen:]

	cfLen := v.consecutiveFrameDataLen()
	for len(remaining) > 0 {
		n := cfLen
		if n > len(remaining) {
			n = len(remaining)
		}
		rest = append(rest, remaining[:n])
		remaining = remaining[n:]
	}
	return first, rest
}
