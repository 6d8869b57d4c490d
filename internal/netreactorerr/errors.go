// Package netreactorerr defines the error codes reactor-go's components
// raise at the point a system call or handler first fails.
package netreactorerr

import "fmt"

// Code classifies a failure so callers can branch without string matching.
type Code string

const (
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeAlreadyStarted      Code = "ALREADY_STARTED"
	CodeSocketCreate        Code = "SOCKET_CREATE_FAILED"
	CodeBindFailed          Code = "BIND_FAILED"
	CodeListenFailed        Code = "LISTEN_FAILED"
	CodeAcceptFailed        Code = "ACCEPT_FAILED"
	CodeRecvFailed          Code = "RECV_FAILED"
	CodeSendFailed          Code = "SEND_FAILED"
	CodeInitializeRejected  Code = "INITIALIZE_REJECTED"
	CodeNotEnoughMemory     Code = "NOT_ENOUGH_MEMORY"
	CodeStateNotRecoverable Code = "STATE_NOT_RECOVERABLE"
)

// Error wraps a Code with the underlying cause and the operation it
// occurred in, the point at which reactor-go turns a syscall failure into
// an error value before passing it up the call chain.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// FromPanic maps a recovered handler panic to an error code, distinguishing
// out-of-memory panics from other runtime errors.
func FromPanic(op string, r interface{}) *Error {
	if _, ok := r.(runtimeError); ok {
		return New(CodeNotEnoughMemory, op, fmt.Errorf("%v", r))
	}
	return New(CodeStateNotRecoverable, op, fmt.Errorf("%v", r))
}

// runtimeError mirrors runtime.Error's method set without importing
// "runtime" just for the interface; any panic value satisfying it (e.g.
// out-of-memory or bounds-check runtime panics) is treated as the
// allocation-failure case.
type runtimeError interface {
	error
	RuntimeError()
}
