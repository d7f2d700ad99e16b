package poll

import "github.com/anodyne74/candaemon/internal/errcode"

// errorFromCode turns an ErrorCode into a comparable error value: a plain
// timeout, a TX failure, or a UDS NRC byte wrapped for errors.As.
func errorFromCode(code ErrorCode) error {
	switch code {
	case ErrCodeTimeout:
		return errcode.ErrPollTimeout
	case ErrCodeTxFailure:
		return errcode.ErrPollTxFailure
	default:
		return &errcode.NRC{Code: byte(code)}
	}
}
