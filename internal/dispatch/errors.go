package dispatch

import "fmt"

// Result error codes.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeCommandError   = "COMMAND_ERROR"
	CodeInvalidParams  = "INVALID_PARAMS"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is a structured command failure. Handlers return it to pick a code;
// any other error is reported as COMMAND_ERROR.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
