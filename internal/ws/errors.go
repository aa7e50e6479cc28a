package ws

import "fmt"

// Code is the error taxonomy reported back to clients in error frames.
type Code string

const (
	CodeUnauthenticated   Code = "Unauthenticated"
	CodeForbidden         Code = "Forbidden"
	CodeInvalidPayload    Code = "InvalidPayload"
	CodeNotFound          Code = "NotFound"
	CodePersistenceFailed Code = "PersistenceFailed"
	CodeSideEffectFailed  Code = "SideEffectFailed"
	CodeRateLimited       Code = "RateLimited"
)

// Error is reported to the originating connection only; it never reaches
// other participants and never closes the connection by itself.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
