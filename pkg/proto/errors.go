package proto

import "fmt"

// ErrorCode enumerates the typed errors a Reply packet can carry. The
// ordinals are wire-stable; new codes append only.
type ErrorCode uint32

const (
	ErrInternal ErrorCode = iota
	ErrCallTimeout
	ErrInvalidArguments
	ErrMismatchedResponseMessage
	ErrRemoteClientOfflineOrNotExist
	ErrRepeatedRequest
	ErrDeviceNotFound

	errorCodeCount
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInternal:
		return "InternalError"
	case ErrCallTimeout:
		return "CallTimeout"
	case ErrInvalidArguments:
		return "InvalidArguments"
	case ErrMismatchedResponseMessage:
		return "MismatchedResponseMessage"
	case ErrRemoteClientOfflineOrNotExist:
		return "RemoteClientOfflineOrNotExist"
	case ErrRepeatedRequest:
		return "RepeatedRequest"
	case ErrDeviceNotFound:
		return "DeviceNotFound"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// Error is the typed error delivered inside Reply packets and surfaced
// by session calls. Handlers return it verbatim to callers.
type Error struct {
	Code ErrorCode
}

// NewError returns the typed error for code.
func NewError(code ErrorCode) *Error { return &Error{Code: code} }

func (e *Error) Error() string { return e.Code.String() }

// IsError reports whether err is a protocol error with the given code.
func IsError(err error, code ErrorCode) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}
