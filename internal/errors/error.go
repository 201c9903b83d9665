package errors

import (
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"
)

var (
	// worker errors
	ErrWorkerStopped       = errors.New("worker stopped")
	ErrNoSyncFolder        = errors.New("no matching folder to sync")
	ErrUIDValidityChanged  = errors.New("uid validity changed by another worker")
	ErrPoolSaturated       = errors.New("worker pool rejected task")
	ErrPoolShutDown        = errors.New("worker pool is shut down")
	ErrUserNotFound        = errors.New("user not found")
	ErrClientNotConnected  = errors.New("imap client is not connected")
	ErrProcessingTimeout   = errors.New("message processing timed out")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrAuthenticationError = errors.New("authentication rejected")
)

// Kind buckets an error into the classes the worker state machine
// branches on.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindProtocol
	KindIO
	KindTimeout
	KindContention
	KindBridge
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindProtocol:
		return "ProtocolError"
	case KindIO:
		return "IOError"
	case KindTimeout:
		return "Timeout"
	case KindContention:
		return "UIDValidityContentionError"
	case KindBridge:
		return "BridgeFailure"
	default:
		return "UnknownError"
	}
}

// kindError carries a classification along the error chain.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// WithKind tags err with a kind. Returns nil when err is nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf classifies an error. Explicit tags win; sentinels and message
// heuristics cover errors coming straight out of the IMAP library and
// the network stack.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}

	switch {
	case stderrors.Is(err, ErrAuthenticationError):
		return KindAuth
	case stderrors.Is(err, ErrUIDValidityChanged):
		return KindContention
	case stderrors.Is(err, ErrPoolSaturated), stderrors.Is(err, ErrPoolShutDown):
		return KindBridge
	case stderrors.Is(err, ErrProcessingTimeout), stderrors.Is(err, ErrConnectionTimeout):
		return KindTimeout
	case stderrors.Is(err, ErrNoSyncFolder):
		return KindProtocol
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "use of closed network connection"):
		return KindIO
	default:
		return KindProtocol
	}
}

// IsConnectionError reports whether an error looks like a dropped
// connection rather than an IMAP-level failure.
func IsConnectionError(err error) bool {
	return KindOf(err) == KindIO || KindOf(err) == KindTimeout
}
