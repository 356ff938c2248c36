package apiclient

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a call did not succeed.
type FailureKind int

const (
	KindNone FailureKind = iota
	// KindCanceled: the caller canceled or superseded the call. Never retried.
	KindCanceled
	// KindTimeout: an attempt exceeded its deadline. Retried within budget.
	KindTimeout
	// KindTransport: network or protocol failure. Retried within budget.
	KindTransport
	// KindHTTP: the service answered with a non-2xx status. Terminal.
	KindHTTP
	// KindDecode: a 2xx body could not be decoded. Terminal.
	KindDecode
	// KindShape: a decoded body violated the caller's contract. Terminal.
	KindShape
)

func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCanceled:
		return "canceled"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindDecode:
		return "decode"
	case KindShape:
		return "shape"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another attempt may change the result.
func (k FailureKind) Retryable() bool {
	return k == KindTimeout || k == KindTransport
}

// Messages used for failures that carry no upstream text.
const (
	MsgCanceled = "Request canceled"
	MsgTimeout  = "Request timed out"
	MsgNetwork  = "Network error"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrCanceled  = errors.New("request canceled")
	ErrTimeout   = errors.New("request timed out")
	ErrTransport = errors.New("transport failure")
	ErrHTTP      = errors.New("upstream returned an error status")
	ErrDecode    = errors.New("response body could not be decoded")
	ErrShape     = errors.New("response shape not accepted")
)

var kindSentinels = map[FailureKind]error{
	KindCanceled:  ErrCanceled,
	KindTimeout:   ErrTimeout,
	KindTransport: ErrTransport,
	KindHTTP:      ErrHTTP,
	KindDecode:    ErrDecode,
	KindShape:     ErrShape,
}

// Error is the error form of a failed Outcome.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the failure kind carried by err, or KindNone.
func KindOf(err error) FailureKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNone
}
