package apiclient

import "net/http"

// Outcome is the result of one logical call. Exactly one of Payload and
// ErrorMessage is meaningful: Success is true iff ErrorMessage is empty iff
// Kind is KindNone.
type Outcome[T any] struct {
	Success      bool
	StatusCode   int // 0 when no response was received
	Payload      T
	ErrorMessage string
	Kind         FailureKind
	Header       http.Header
	// Body is the raw body of a non-2xx response, kept for relaying.
	Body []byte
}

// Err returns nil on success, otherwise an *Error describing the failure.
func (o Outcome[T]) Err() error {
	if o.Success {
		return nil
	}
	return &Error{Kind: o.Kind, StatusCode: o.StatusCode, Message: o.ErrorMessage}
}

// Succeeded builds a successful outcome.
func Succeeded[T any](status int, payload T, header http.Header) Outcome[T] {
	if header == nil {
		header = http.Header{}
	}
	return Outcome[T]{Success: true, StatusCode: status, Payload: payload, Header: header}
}

// Failed builds a failed outcome. An empty message falls back to the kind's default.
func Failed[T any](kind FailureKind, status int, message string, header http.Header) Outcome[T] {
	if kind == KindNone {
		kind = KindTransport
	}
	if message == "" {
		message = defaultMessage(kind, status)
	}
	if header == nil {
		header = http.Header{}
	}
	return Outcome[T]{Kind: kind, StatusCode: status, ErrorMessage: message, Header: header}
}

// Canceled is the outcome of a canceled or superseded call.
func Canceled[T any]() Outcome[T] {
	return Failed[T](KindCanceled, 0, MsgCanceled, nil)
}

func defaultMessage(kind FailureKind, status int) string {
	switch kind {
	case KindCanceled:
		return MsgCanceled
	case KindTimeout:
		return MsgTimeout
	case KindHTTP, KindDecode, KindShape:
		if status > 0 {
			return httpStatusMessage(status)
		}
	}
	return MsgNetwork
}
