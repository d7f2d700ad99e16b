package poll

import "github.com/anodyne74/candaemon/internal/isotp"

// ErrorCode is the terminal reason a job's series receives via on_error.
// code=0 is a plain timeout; code>0 is a UDS NRC byte.
type ErrorCode int

const (
	ErrCodeTimeout   ErrorCode = 0
	ErrCodeTxFailure ErrorCode = -1
)

// Job is the working state of the currently in-flight request on one bus:
// a "resume where we left off" record rather than a suspended coroutine.
type Job struct {
	Bus      int
	Protocol Protocol
	Type     uint16
	PID      uint16
	TxID     uint32
	RxIDLow  uint32
	RxIDHigh uint32

	RxIDReceived bool
	asm          *isotp.RxAssembly

	Ticker uint32
}

// StartMultiFrame begins ISO-TP reassembly for a First Frame announcing
// totalLen bytes, recording ml_frame=0 implicitly via the assembly's own
// bookkeeping.
func (j *Job) StartMultiFrame(variant isotp.Variant, totalLen int, firstChunk []byte) error {
	asm, err := isotp.NewRxAssembly(variant, totalLen, firstChunk)
	if err != nil {
		return err
	}
	j.asm = asm
	return nil
}

// AppendConsecutive feeds one more Consecutive Frame into the in-progress
// reassembly; done mirrors ml_remain reaching 0.
func (j *Job) AppendConsecutive(seq int, data []byte) (done bool, err error) {
	if j.asm == nil {
		return false, nil
	}
	return j.asm.AppendConsecutive(seq, data)
}

// Remaining is ml_remain.
func (j *Job) Remaining() int {
	if j.asm == nil {
		return 0
	}
	return j.asm.Remaining()
}

// Payload returns the bytes reassembled so far (or the complete payload once
// Remaining()==0).
func (j *Job) Payload() []byte {
	if j.asm == nil {
		return nil
	}
	return j.asm.Payload()
}

// Reset clears reassembly state, e.g. before starting a new request.
func (j *Job) Reset() {
	j.asm = nil
	j.RxIDReceived = false
}
