// Package p2perr defines the error taxonomy shared by the codec, the peer
// connection, the handshake engine and the orchestrator.
package p2perr

import (
	"errors"
	"fmt"
)

// Kind classifies a handshake failure so callers can branch on it.
type Kind int

const (
	// KindUnknown covers errors that do not fit any other kind, including
	// recovered panics.
	KindUnknown Kind = iota

	// KindConnection means the peer was unreachable, refused the
	// connection, or reset it.
	KindConnection

	// KindDecode means a frame arrived with a bad magic, a bad checksum or
	// a payload that does not match its command.
	KindDecode

	// KindConnectionClosed means the stream reached EOF before a complete
	// frame was read.
	KindConnectionClosed

	// KindTimeout means the per-peer deadline expired.
	KindTimeout

	// KindUnexpectedMessage means a message outside the handshake subset
	// was rejected by a strict engine.
	KindUnexpectedMessage

	// KindCanceled means the caller canceled the run before the peer
	// finished.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindConnection:
		return "ConnectionError"
	case KindDecode:
		return "DecodeError"
	case KindConnectionClosed:
		return "ConnectionClosed"
	case KindTimeout:
		return "TimeoutError"
	case KindUnexpectedMessage:
		return "UnexpectedMessage"
	case KindCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error carries the kind of a failure together with the peer it happened
// on, the operation in progress and the underlying cause.
type Error struct {
	Kind  Kind
	Addr  string
	Op    string
	Cause error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConnection        = &Error{Kind: KindConnection}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrConnectionClosed  = &Error{Kind: KindConnectionClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrUnexpectedMessage = &Error{Kind: KindUnexpectedMessage}
	ErrCanceled          = &Error{Kind: KindCanceled}
)

// New returns an *Error of the given kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Addr != "" {
		return "peer " + e.Addr + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// WithAddr returns err as an *Error tagged with addr. Errors that are not
// already an *Error are wrapped as KindUnknown. The input is not
// modified.
func WithAddr(err error, addr string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Addr = addr
		return &cp
	}
	return &Error{Kind: KindUnknown, Addr: addr, Cause: err}
}

// IsRetriable reports whether a fresh attempt could plausibly succeed.
// Protocol violations are never retriable.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindConnectionClosed, KindTimeout:
		return true
	default:
		return false
	}
}
