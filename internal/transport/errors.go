package transport

import (
	"errors"
	"fmt"
)

// ErrTimeout matches every TimeoutError via errors.Is.
var ErrTimeout = errors.New("rpc call timed out")

// ErrMissingResult is returned when a response carries neither a result
// nor an error.
var ErrMissingResult = errors.New("response has no result field")

// TimeoutError reports a call that exceeded the caller's deadline. It is
// distinct from RPCError: the node may still have executed the call.
type TimeoutError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %v", e.Endpoint, e.Method, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// TransportError reports a failure to reach the node or to read its reply.
type TransportError struct {
	Op       string // dial, write, read, decode, status
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Endpoint, e.Method, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RPCError is an error object returned by the node itself.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Method  string `json:"-"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: code %d: %s", e.Method, e.Code, e.Message)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRPCError reports whether err is (or wraps) an RPCError.
func IsRPCError(err error) bool {
	var re *RPCError
	return errors.As(err, &re)
}
