package chaterr

import (
	"errors"
	"fmt"
)

// Kind classifies session errors.
type Kind string

const (
	KindUnknown            Kind = "UNKNOWN"
	KindAuth               Kind = "AUTH"
	KindNetwork            Kind = "NETWORK"
	KindProtocol           Kind = "PROTOCOL"
	KindDeliveryTimeout    Kind = "DELIVERY_TIMEOUT"
	KindDuplicateFrame     Kind = "DUPLICATE_FRAME"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindFailedPrecondition Kind = "FAILED_PRECONDITION"
)

// Error is a classified session error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, chaterr.ErrAuth) works
// regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrAuth               = &Error{Kind: KindAuth}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrProtocol           = &Error{Kind: KindProtocol}
	ErrDeliveryTimeout    = &Error{Kind: KindDeliveryTimeout}
	ErrDuplicateFrame     = &Error{Kind: KindDuplicateFrame}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrFailedPrecondition = &Error{Kind: KindFailedPrecondition}
)

func New(kind Kind, op, message string) error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func Auth(op string, cause error) error     { return Wrap(KindAuth, op, cause) }
func Network(op string, cause error) error  { return Wrap(KindNetwork, op, cause) }
func Protocol(op string, cause error) error { return Wrap(KindProtocol, op, cause) }

func NotFound(op, message string) error { return New(KindNotFound, op, message) }

func InvalidArgument(op, message string) error { return New(KindInvalidArgument, op, message) }

func FailedPrecondition(op, message string) error { return New(KindFailedPrecondition, op, message) }

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must stop automatic reconnection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
