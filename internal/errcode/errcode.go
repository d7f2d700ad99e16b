// Package errcode names the core's error taxonomy as comparable Go error
// values, so callers use errors.Is/errors.As instead of string matching.
package errcode

import "errors"

var (
	ErrBusNotFound   = errors.New("errcode: bus not found")
	ErrBusNotPowered = errors.New("errcode: bus not powered")
	ErrBusBusy       = errors.New("errcode: bus busy")

	ErrTxOverflow = errors.New("errcode: tx queue overflow")
	ErrTxFailure  = errors.New("errcode: tx failure")
	ErrRxOverflow = errors.New("errcode: rx dispatch queue overflow")

	ErrParse    = errors.New("errcode: dbc parse error")
	ErrLockBusy = errors.New("errcode: dbc locked, replace/unload refused")

	ErrPollTimeout   = errors.New("errcode: poll timeout")
	ErrPollTxFailure = errors.New("errcode: poll tx failure")

	ErrInvalidArgument = errors.New("errcode: invalid argument")
)

// NRC is a UDS Negative Response Code, carried as a typed error so callers
// can errors.As into it to recover the byte value.
type NRC struct {
	Code byte
}

func (e *NRC) Error() string {
	if name, ok := nrcNames[e.Code]; ok {
		return "errcode: nrc 0x" + hexByte(e.Code) + " " + name
	}
	return "errcode: nrc 0x" + hexByte(e.Code)
}

// Pending reports whether this NRC is the "response pending" code (0x78),
// which resets the response timeout rather than terminating the request.
func (e *NRC) Pending() bool { return e.Code == 0x78 }

var nrcNames = map[byte]string{
	0x11: "serviceNotSupported",
	0x12: "subFunctionNotSupported",
	0x13: "incorrectMessageLengthOrInvalidFormat",
	0x22: "conditionsNotCorrect",
	0x31: "requestOutOfRange",
	0x33: "securityAccessDenied",
	0x78: "responsePending",
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0xF]})
}
