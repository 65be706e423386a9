package realtime

import "errors"

// Error codes for domain errors.
const (
	ErrCodeAuthRejected      = "auth_rejected"
	ErrCodeNotConnected      = "not_connected"
	ErrCodeRoomJoin          = "room_join_failed"
	ErrCodeSendFailed        = "send_failed"
	ErrCodeMissingIdentifier = "missing_identifier"
)

var (
	// ErrAuthRejected means the gateway refused the credential. Terminal for
	// the session: the same credential is never retried.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrNotConnected means an emit was attempted without a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrMissingIdentifier means a conversation reference had no resolvable id.
	ErrMissingIdentifier = errors.New("conversation reference has no id")
	// ErrConnClosed means the connection was closed deliberately.
	ErrConnClosed = errors.New("connection closed")
)

// Error wraps a code and human-readable message for the app layer.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}
