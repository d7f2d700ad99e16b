package simulator

import (
	"github.com/anodyne74/candaemon/internal/canframe"
	"github.com/anodyne74/candaemon/internal/isotp"
	"github.com/anodyne74/candaemon/internal/poll/obd2"
)

// ValueSource supplies the current physical value for a Mode 01 PID; it is
// consulted each time a request for that PID arrives, so a test can vary
// readings over time by closing over mutable state.
type ValueSource func(pid uint16) (value float64, ok bool)

// StaticValues returns a ValueSource that always answers the same fixed
// values, keyed by the obd2 package's PID constants.
func StaticValues(values map[uint16]float64) ValueSource {
	return func(pid uint16) (float64, bool) {
		v, ok := values[pid]
		return v, ok
	}
}

// OBD2Responder answers single-frame Mode 01 requests addressed to rxID
// (typically 0x7DF or a specific ECU's functional/physical request ID) with
// single-frame replies on txID (typically request ID + 8, e.g. 0x7E8),
// encoding values the inverse of internal/poll/obd2.Decode.
func OBD2Responder(rxID, txID uint32, values ValueSource) Responder {
	return func(tx canframe.Frame) []canframe.Frame {
		if tx.ID != rxID {
			return nil
		}
		decoded, err := isotp.Parse(isotp.Std, tx.Payload())
		if err != nil || decoded.Kind != isotp.KindSingleFrame || len(decoded.Data) < 2 {
			return nil
		}
		mode := decoded.Data[0]
		pid := uint16(decoded.Data[1])
		if mode != 0x01 {
			return nil
		}
		value, ok := values(pid)
		if !ok {
			return nil
		}
		body := encodeOBD2Value(pid, value)
		sfPayload := append([]byte{0x41, byte(pid)}, body...)
		data, n, err := isotp.BuildSingleFrame(isotp.Std, 0, sfPayload)
		if err != nil {
			return nil
		}
		return []canframe.Frame{canframe.New(tx.Bus, txID, canframe.Standard, data[:n])}
	}
}

// encodeOBD2Value is the inverse of obd2.Decode for the PIDs that package
// knows how to decode; unrecognised PIDs encode as a single zero byte.
func encodeOBD2Value(pid uint16, value float64) []byte {
	switch pid {
	case obd2.PIDRPM:
		raw := uint16(value * 4)
		return []byte{byte(raw >> 8), byte(raw)}
	case obd2.PIDSpeed:
		return []byte{byte(value)}
	case obd2.PIDCoolantTemp, obd2.PIDIntakeTemp:
		return []byte{byte(value + 40)}
	case obd2.PIDEngineLoad, obd2.PIDThrottlePos:
		return []byte{byte(value * 255 / 100)}
	case obd2.PIDMAF:
		raw := uint16(value * 100)
		return []byte{byte(raw >> 8), byte(raw)}
	case obd2.PIDFuelPressure:
		return []byte{byte(value / 3)}
	case obd2.PIDIntakeMAP:
		return []byte{byte(value)}
	default:
		return []byte{0}
	}
}

// NegativeResponder always answers a request addressed to rxID with a
// negative response (SID 0x7F) carrying nrc, for exercising the poller's
// on_error path.
func NegativeResponder(rxID, txID uint32, nrc byte) Responder {
	return func(tx canframe.Frame) []canframe.Frame {
		if tx.ID != rxID {
			return nil
		}
		decoded, err := isotp.Parse(isotp.Std, tx.Payload())
		if err != nil || decoded.Kind != isotp.KindSingleFrame || len(decoded.Data) < 1 {
			return nil
		}
		sfPayload := []byte{0x7F, decoded.Data[0], nrc}
		data, n, err := isotp.BuildSingleFrame(isotp.Std, 0, sfPayload)
		if err != nil {
			return nil
		}
		return []canframe.Frame{canframe.New(tx.Bus, txID, canframe.Standard, data[:n])}
	}
}

// MultiFrameResponder answers any single-frame request addressed to rxID
// with payload as a full ISO-TP multi-frame sequence (First Frame plus as
// many Consecutive Frames as needed) on txID, without waiting for a Flow
// Control frame from the requester: the simulator emits the whole sequence
// eagerly, which is adequate for exercising the poller's reassembly path but
// does not model a real ECU's block-size/separation-time throttling.
func MultiFrameResponder(rxID, txID uint32, payload []byte) Responder {
	return func(tx canframe.Frame) []canframe.Frame {
		if tx.ID != rxID {
			return nil
		}
		if _, err := isotp.Parse(isotp.Std, tx.Payload()); err != nil {
			return nil
		}

		var frames []canframe.Frame
		const ffLen = 6 // isotp.Std.firstFrameDataLen()
		const cfLen = 7 // isotp.Std.consecutiveFrameDataLen()

		firstChunk := payload
		if len(firstChunk) > ffLen {
			firstChunk = firstChunk[:ffLen]
		} else {
			padded := make([]byte, ffLen)
			copy(padded, firstChunk)
			firstChunk = padded
		}
		ff, err := isotp.BuildFirstFrame(isotp.Std, 0, len(payload), firstChunk)
		if err != nil {
			return nil
		}
		frames = append(frames, canframe.New(tx.Bus, txID, canframe.Standard, ff[:]))

		remaining := payload[min(len(payload), ffLen):]
		seq := 1
		for len(remaining) > 0 {
			chunk := remaining
			if len(chunk) > cfLen {
				chunk = chunk[:cfLen]
			}
			cf, err := isotp.BuildConsecutiveFrame(isotp.Std, 0, seq, chunk)
			if err != nil {
				return nil
			}
			frames = append(frames, canframe.New(tx.Bus, txID, canframe.Standard, cf[:]))
			remaining = remaining[len(chunk):]
			seq = (seq + 1) % 16
		}
		return frames
	}
}
